package api

import (
	"net/http"
)

// accountResponse represents the account information including the current quota window state
type accountResponse struct {
	Account interface{}   `json:"account"`
	Window  accountWindow `json:"window"`
}

type accountWindow struct {
	Used  int64 `json:"used"`
	Limit int64 `json:"limit"`
}

// EndpointGetAccount handles the 'GET /v1/account' endpoint
func (service *Service) EndpointGetAccount(writer http.ResponseWriter, request *http.Request) {
	acc := requestAccount(request)
	cpy := *acc
	service.writer.WriteJSON(writer, &accountResponse{
		Account: &cpy,
		Window: accountWindow{
			Used:  service.Ledger.Usage(acc),
			Limit: acc.Limit,
		},
	})
}
