package binance

// exchangeInfoResponse is the subset of GET /api/v3/exchangeInfo we consume.
type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol             string `json:"symbol"`
		Status             string `json:"status"`
		BaseAsset          string `json:"baseAsset"`
		QuoteAsset         string `json:"quoteAsset"`
		BaseAssetPrecision int32  `json:"baseAssetPrecision"`
		QuotePrecision     int32  `json:"quoteAssetPrecision"`
		Filters            []struct {
			FilterType  string `json:"filterType"`
			MinNotional string `json:"minNotional"`
		} `json:"filters"`
	} `json:"symbols"`
}

// depthSnapshotResponse is GET /api/v3/depth.
type depthSnapshotResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// wsDepthEvent is a depthUpdate from the combined stream.
type wsDepthEvent struct {
	EventType     string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateID int64      `json:"U"`
	FinalUpdateID int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}
