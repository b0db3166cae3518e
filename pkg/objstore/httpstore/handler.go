package httpstore

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/tqbf/sitesync/pkg/objstore"
	"github.com/tqbf/sitesync/pkg/paths"
)

const maxObjectSize = 512 << 20

type handler struct {
	store  objstore.Store
	token  string
	logger *slog.Logger
}

type HandlerOption func(*handler)

func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler serves store over the protocol Client speaks. An empty
// token disables authentication.
func NewHandler(
	store objstore.Store, token string, opts ...HandlerOption,
) http.Handler {
	h := &handler{store: store, token: token, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": msg,
		"code":  code,
	})
}

func (h *handler) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}
	got, ok := strings.CutPrefix(
		r.Header.Get("Authorization"), "Bearer ",
	)
	return ok && subtle.ConstantTimeCompare(
		[]byte(got), []byte(h.token),
	) == 1
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized,
			"Unauthorized", "missing or bad token")
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/")
	if err := paths.ValidateKey(key); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidKey", err.Error())
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		h.get(w, r, key)
	case http.MethodPut:
		h.put(w, r, key)
	case http.MethodDelete:
		if err := h.store.Delete(r.Context(), key); err != nil {
			h.logger.Error("delete object", "key", key, "err", err)
			writeError(w, http.StatusInternalServerError,
				"InternalError", err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, HEAD, PUT, DELETE")
		writeError(w, http.StatusMethodNotAllowed,
			"MethodNotAllowed", r.Method)
	}
}

func (h *handler) get(
	w http.ResponseWriter, r *http.Request, key string,
) {
	obj, err := h.store.Get(r.Context(), key)
	if errors.Is(err, objstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NoSuchKey", key)
		return
	}
	if err != nil {
		h.logger.Error("get object", "key", key, "err", err)
		writeError(w, http.StatusInternalServerError,
			"InternalError", err.Error())
		return
	}
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(obj.Data)
	}
}

func (h *handler) put(
	w http.ResponseWriter, r *http.Request, key string,
) {
	data, err := io.ReadAll(
		http.MaxBytesReader(w, r.Body, maxObjectSize),
	)
	if err != nil {
		writeError(w, http.StatusBadRequest,
			"IncompleteBody", err.Error())
		return
	}
	ct := r.Header.Get("Content-Type")
	if err := h.store.Put(r.Context(), key, data, ct); err != nil {
		h.logger.Error("put object", "key", key, "err", err)
		writeError(w, http.StatusInternalServerError,
			"InternalError", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
