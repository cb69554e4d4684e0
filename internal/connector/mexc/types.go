package mexc

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol               string `json:"symbol"`
		Status               string `json:"status"`
		BaseAsset            string `json:"baseAsset"`
		QuoteAsset           string `json:"quoteAsset"`
		IsSpotTradingAllowed bool   `json:"isSpotTradingAllowed"`
	} `json:"symbols"`
}

type depthResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

type wsLevel struct {
	Price  string `json:"p"`
	Volume string `json:"v"`
}

type wsMessage struct {
	Channel string `json:"c"`
	Symbol  string `json:"s"`
	Ts      int64  `json:"t"`
	Data    *struct {
		Bids    []wsLevel `json:"bids"`
		Asks    []wsLevel `json:"asks"`
		Version string    `json:"r"`
	} `json:"d"`
}
