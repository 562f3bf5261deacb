package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/marketledger/internal/crypto"
	"github.com/alanyoungcy/marketledger/internal/ledger"
)

// Caller identity headers.
const (
	HeaderCaller    = "X-Caller"
	HeaderValue     = "X-Value"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

const (
	maxSignedBody          = 1 << 20
	defaultSignatureMaxAge = 5 * time.Minute
)

// CallerConfig controls how the Caller middleware establishes identity.
type CallerConfig struct {
	// RequireSignatures rejects unsigned mutating requests. When false an
	// unsigned X-Caller header is trusted.
	RequireSignatures bool
	Domain            crypto.Domain
	// MaxAge bounds the clock skew accepted on X-Timestamp.
	MaxAge time.Duration
	Now    func() time.Time
}

type callKey struct{}

// WithCall attaches call to ctx.
func WithCall(ctx context.Context, call ledger.Call) context.Context {
	return context.WithValue(ctx, callKey{}, call)
}

// CallFrom returns the call the Caller middleware attached. ok is false when
// the request carried no caller.
func CallFrom(ctx context.Context) (ledger.Call, bool) {
	call, ok := ctx.Value(callKey{}).(ledger.Call)
	return call, ok && call.Caller != (common.Address{})
}

// Caller resolves the calling party and the attached value of every request.
// A request carrying X-Signature is authenticated by recovering the signer of
// its EIP-712 Request; otherwise X-Caller names the caller. X-Value is the
// attached native amount in decimal wei.
func Caller(cfg CallerConfig) func(http.Handler) http.Handler {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultSignatureMaxAge
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var call ledger.Call

			if v := strings.TrimSpace(r.Header.Get(HeaderValue)); v != "" {
				amt, err := uint256.FromDecimal(v)
				if err != nil {
					writeError(w, http.StatusBadRequest, "X-Value must be a decimal wei amount")
					return
				}
				call.Value = *amt
			}

			claimed := strings.TrimSpace(r.Header.Get(HeaderCaller))
			if claimed != "" {
				if !common.IsHexAddress(claimed) {
					writeError(w, http.StatusBadRequest, "X-Caller must be a hex address")
					return
				}
				call.Caller = common.HexToAddress(claimed)
			}

			sig := strings.TrimSpace(r.Header.Get(HeaderSignature))
			switch {
			case sig != "":
				signer, status, msg := verifyRequest(cfg, r, call, sig)
				if status != 0 {
					writeError(w, status, msg)
					return
				}
				call.Caller = signer
			case cfg.RequireSignatures && mutating(r.Method):
				writeError(w, http.StatusUnauthorized, "request signature required")
				return
			}

			if mutating(r.Method) && call.Caller == (common.Address{}) {
				writeError(w, http.StatusUnauthorized, "caller required")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCall(r.Context(), call)))
		})
	}
}

// verifyRequest recovers the signer of r. It replaces r.Body so handlers can
// still read it. A non-zero status reports the rejection.
func verifyRequest(cfg CallerConfig, r *http.Request, call ledger.Call, sig string) (common.Address, int, string) {
	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return common.Address{}, http.StatusUnauthorized, "X-Timestamp must be unix seconds"
	}
	if age := cfg.Now().Sub(time.Unix(ts, 0)); age > cfg.MaxAge || age < -cfg.MaxAge {
		return common.Address{}, http.StatusUnauthorized, "request signature expired"
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
		if err != nil {
			return common.Address{}, http.StatusBadRequest, "reading request body"
		}
		if len(body) > maxSignedBody {
			return common.Address{}, http.StatusRequestEntityTooLarge, "request body too large"
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	signer, err := crypto.RecoverRequest(cfg.Domain, crypto.Request{
		Caller:    call.Caller,
		Method:    r.Method,
		Path:      r.URL.Path,
		Body:      body,
		Value:     call.Value,
		Timestamp: ts,
	}, sig)
	if err != nil || signer != call.Caller {
		return common.Address{}, http.StatusUnauthorized, "invalid request signature"
	}
	return signer, 0, ""
}

func mutating(method string) bool {
	return method == http.MethodPost || method == http.MethodDelete
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
