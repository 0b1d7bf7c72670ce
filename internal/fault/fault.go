// Package fault defines the closed set of error kinds the webhook pipeline can
// produce and maps each one to an HTTP response.
package fault

import (
	"encoding/json"
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// Kind names double as the text code written in error responses.
type Kind string

const (
	Authentication       Kind = "AuthenticationError"
	MalformedPayload     Kind = "MalformedPayloadError"
	OrderNotFound        Kind = "OrderNotFoundError"
	OrderUpdate          Kind = "OrderUpdateError"
	ChargeForward        Kind = "ChargeForwardError"
	NotificationDelivery Kind = "NotificationDeliveryError"
	TokenRetirement      Kind = "TokenRetirementError"
	MethodNotAllowed     Kind = "MethodNotAllowed"
	Internal             Kind = "InternalError"
)

type kindInfo struct {
	category goerrors.Category
	status   int
}

// OrderNotFound maps to 500 so the processor redelivers; the order row may
// simply not be committed yet.
var kinds = map[Kind]kindInfo{
	Authentication:       {goerrors.CategoryAuth, http.StatusUnauthorized},
	MalformedPayload:     {goerrors.CategoryBadInput, http.StatusBadRequest},
	OrderNotFound:        {goerrors.CategoryNotFound, http.StatusInternalServerError},
	OrderUpdate:          {goerrors.CategoryInternal, http.StatusInternalServerError},
	ChargeForward:        {goerrors.CategoryExternal, http.StatusInternalServerError},
	NotificationDelivery: {goerrors.CategoryExternal, http.StatusInternalServerError},
	TokenRetirement:      {goerrors.CategoryExternal, http.StatusInternalServerError},
	MethodNotAllowed:     {goerrors.CategoryBadInput, http.StatusMethodNotAllowed},
	Internal:             {goerrors.CategoryInternal, http.StatusInternalServerError},
}

func lookup(kind Kind) kindInfo {
	if s, ok := kinds[kind]; ok {
		return s
	}
	return kinds[Internal]
}

// New builds an error envelope of the given kind.
func New(kind Kind, message string, metadata map[string]any) error {
	s := lookup(kind)
	err := goerrors.New(message, s.category).
		WithCode(s.status).
		WithTextCode(string(kind))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// Wrap builds an envelope of the given kind around source. A nil source
// behaves like New.
func Wrap(source error, kind Kind, message string, metadata map[string]any) error {
	if source == nil {
		return New(kind, message, metadata)
	}
	s := lookup(kind)
	err := goerrors.Wrap(source, s.category, message).
		WithCode(s.status).
		WithTextCode(string(kind))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// KindOf reports the kind carried by err, or Internal for foreign errors.
func KindOf(err error) Kind {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.TextCode != "" {
		if _, ok := kinds[Kind(rich.TextCode)]; ok {
			return Kind(rich.TextCode)
		}
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Status returns the HTTP status for err.
func Status(err error) int {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Code != 0 {
		return rich.Code
	}
	return http.StatusInternalServerError
}

// Body is the JSON shape of every error response.
type Body struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// BodyOf renders err as a response body. Messages of foreign errors are not
// exposed.
func BodyOf(err error) Body {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return Body{Error: string(KindOf(err)), Message: rich.Message}
	}
	return Body{Error: string(Internal), Message: "internal error"}
}

// WriteHTTP writes err as a JSON error response.
func WriteHTTP(w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(Status(err))
	_ = json.NewEncoder(w).Encode(BodyOf(err))
}
