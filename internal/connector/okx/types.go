package okx

type instrumentsResponse struct {
	Code string `json:"code"`
	Data []struct {
		InstID   string `json:"instId"`
		BaseCcy  string `json:"baseCcy"`
		QuoteCcy string `json:"quoteCcy"`
		State    string `json:"state"`
		MinSz    string `json:"minSz"`
		TickSz   string `json:"tickSz"`
	} `json:"data"`
}

type bookData struct {
	Bids      [][]string `json:"bids"`
	Asks      [][]string `json:"asks"`
	Ts        string     `json:"ts"`
	SeqID     int64      `json:"seqId"`
	PrevSeqID int64      `json:"prevSeqId"`
}

type booksResponse struct {
	Code string     `json:"code"`
	Data []bookData `json:"data"`
}

type wsArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type wsRequest struct {
	Op   string  `json:"op"`
	Args []wsArg `json:"args"`
}

type wsEnvelope struct {
	Event  string     `json:"event"`
	Code   string     `json:"code"`
	Msg    string     `json:"msg"`
	Arg    wsArg      `json:"arg"`
	Action string     `json:"action"`
	Data   []bookData `json:"data"`
}
