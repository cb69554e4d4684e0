package huobi

import "encoding/json"

type symbolsResponse struct {
	Status string `json:"status"`
	Data   []struct {
		Symbol        string  `json:"symbol"`
		BaseCurrency  string  `json:"base-currency"`
		QuoteCurrency string  `json:"quote-currency"`
		State         string  `json:"state"`
		MinOrderValue float64 `json:"min-order-value"`
	} `json:"data"`
}

type depthTick struct {
	Bids    [][]json.Number `json:"bids"`
	Asks    [][]json.Number `json:"asks"`
	Version int64           `json:"version"`
	Ts      int64           `json:"ts"`
}

type depthResponse struct {
	Status string    `json:"status"`
	Tick   depthTick `json:"tick"`
}

type wsMessage struct {
	Ch   string     `json:"ch"`
	Ts   int64      `json:"ts"`
	Tick *depthTick `json:"tick"`
}
