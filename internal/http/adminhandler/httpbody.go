package adminhandler

// BanRequest adds or removes one entry in a ban set.
type BanRequest struct {
	Kind  string `json:"kind"  binding:"required,oneof=ip key keyword"`
	Value string `json:"value" binding:"required"`
}

type AckResponse struct {
	Ok bool `json:"ok"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
