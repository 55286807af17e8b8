package api

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/skybi/report-server/internal/account"
	"github.com/skybi/report-server/internal/account/quota"
	"github.com/skybi/report-server/internal/api/schema"
	"github.com/skybi/report-server/internal/bitflag"
	"github.com/skybi/report-server/internal/metrics"
)

type contextKey string

var contextValueAccount contextKey = "account"

// MiddlewareVerifyToken resolves the bearer token of the requesting client into an account and injects
// it into the request context. Tokens are accepted through the 'Authorization' header or, for clients
// that cannot set headers, the 'token' query parameter.
// If no token is given at all, the request only passes if anonymous access is enabled; the account
// context value stays nil in that case.
func (service *Service) MiddlewareVerifyToken(next http.HandlerFunc) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		rawToken := ""
		header := request.Header.Get("Authorization")
		if strings.HasPrefix(header, "Bearer") {
			rawToken = strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
		} else {
			rawToken = strings.TrimSpace(request.URL.Query().Get("token"))
		}

		// No token at all: admit only if the deployment serves anonymous clients
		if rawToken == "" {
			if !service.Config.AllowAnonymous {
				service.writer.WriteErrors(writer, http.StatusUnauthorized, schema.ErrUnauthorized)
				return
			}
			next(writer, request)
			return
		}

		// Try to retrieve the account out of the account store
		acc, err := service.Storage.Accounts().GetByRawToken(request.Context(), rawToken)
		if err != nil {
			service.writer.WriteInternalError(writer, err)
			return
		}
		if acc == nil {
			service.writer.WriteErrors(writer, http.StatusUnauthorized, schema.ErrUnauthorized)
			return
		}
		if !acc.Active {
			service.writer.WriteErrors(writer, http.StatusUnauthorized, errAccountDisabled)
			return
		}

		// Delegate to the next handler
		request = request.WithContext(context.WithValue(request.Context(), contextValueAccount, acc))
		next(writer, request)
	}
}

// MiddlewareRequireAccount rejects anonymous requests on endpoints that are bound to an account
func (service *Service) MiddlewareRequireAccount(next http.HandlerFunc) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		if requestAccount(request) == nil {
			service.writer.WriteErrors(writer, http.StatusUnauthorized, schema.ErrUnauthorized)
			return
		}
		next(writer, request)
	}
}

// MiddlewareVerifyCapabilities makes sure that the requesting account has a set of required capabilities.
// Anonymous clients carry the default capability set.
func (service *Service) MiddlewareVerifyCapabilities(caps ...bitflag.Flag) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(writer http.ResponseWriter, request *http.Request) {
			provided := account.DefaultCapabilities
			if acc := requestAccount(request); acc != nil {
				provided = acc.Capabilities
			}

			if !provided.Has(caps...) {
				err := errInsufficientCapabilities(provided, bitflag.EmptyContainer.With(caps...))
				service.writer.WriteErrors(writer, http.StatusForbidden, err)
				return
			}

			// Delegate to the next handler
			next(writer, request)
		}
	}
}

// admitRequest performs the quota admission for the requesting account. Handlers call it once the
// input is validated and the station resolved, so malformed or unresolvable requests never consume
// a unit of the window. The ledger counts the request in the same step it admits it, so concurrent
// requests can never collectively exceed the account's limit.
// If the request is rejected, the 429 response is written and false is returned.
func (service *Service) admitRequest(writer http.ResponseWriter, request *http.Request) bool {
	decision := service.admit(requestAccount(request), request)
	if !decision.Admitted {
		metrics.QuotaRejectionsTotal.Inc()
		service.writer.WriteErrors(writer, http.StatusTooManyRequests, errRateLimited(decision.Limit, decision.Used, decision.ResetsAt))
		return false
	}
	return true
}

func (service *Service) admit(acc *account.Account, request *http.Request) quota.Decision {
	if acc != nil {
		return service.Ledger.AdmitAccount(acc)
	}
	return service.Ledger.AdmitAnonymous(clientKey(request), service.Config.AnonymousLimit)
}

// requestAccount extracts the account object injected by MiddlewareVerifyToken, if any
func requestAccount(request *http.Request) *account.Account {
	acc, ok := request.Context().Value(contextValueAccount).(*account.Account)
	if !ok {
		return nil
	}
	return acc
}

// clientKey derives the ledger key of an anonymous client from its network address
func clientKey(request *http.Request) string {
	host, _, err := net.SplitHostPort(request.RemoteAddr)
	if err != nil {
		return request.RemoteAddr
	}
	return host
}
