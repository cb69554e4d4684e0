package cointr

type symbolsResponse struct {
	Code string `json:"code"`
	Data []struct {
		Symbol       string `json:"symbol"`
		BaseCoin     string `json:"baseCoin"`
		QuoteCoin    string `json:"quoteCoin"`
		Status       string `json:"status"`
		MinTradeUSDT string `json:"minTradeUSDT"`
	} `json:"data"`
}

type orderbookResponse struct {
	Code string `json:"code"`
	Data struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
		Ts   string     `json:"ts"`
	} `json:"data"`
}
