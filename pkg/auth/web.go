package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"pkt.systems/pslog"

	"github.com/skygate-io/skygate/pkg/token"
)

// WebHandler serves the credential-entry form. GET renders the form for a
// live link; POST submits the credential. Together they are the only path a
// secret API key travels.
type WebHandler struct {
	broker *Broker
	logger pslog.Logger
}

// NewWebHandler creates the handler for a broker.
func NewWebHandler(broker *Broker, logger pslog.Logger) *WebHandler {
	return &WebHandler{broker: broker, logger: logger}
}

// Register attaches the auth routes to mux.
func (h *WebHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /auth/{token}", h.page)
	mux.HandleFunc("POST /auth/{token}", h.submit)
}

func (h *WebHandler) page(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("token")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	switch h.broker.LinkStatus(id) {
	case token.StatusPending:
		page := strings.ReplaceAll(formPage, "{{token}}", id)
		_, _ = w.Write([]byte(page))
	case token.StatusRedeemed, token.StatusVerified:
		_, _ = w.Write([]byte(donePage))
	default:
		// Expired, unknown and replayed links all look the same.
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(invalidPage))
	}
}

type submitRequest struct {
	APIKey string `json:"api_key"`
}

type submitResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (h *WebHandler) submit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("token")

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, submitResponse{
			Status:  "invalid",
			Message: "malformed request body",
		})
		return
	}
	apiKey := strings.TrimSpace(req.APIKey)
	if apiKey == "" {
		writeJSON(w, http.StatusBadRequest, submitResponse{
			Status:  "invalid",
			Message: "API key is required",
		})
		return
	}

	user, err := h.broker.SubmitCredential(r.Context(), id, apiKey)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, submitResponse{
			Status:  "verified",
			Message: "Authenticated as " + user.Email + ". You can close this window and return to your agent.",
		})
	case errors.Is(err, ErrVerificationFailed):
		writeJSON(w, http.StatusUnauthorized, submitResponse{
			Status:  "invalid",
			Message: "The API key was rejected. Check the key and try again.",
		})
	default:
		writeJSON(w, http.StatusGone, submitResponse{
			Status:  "expired",
			Message: "This authentication link is invalid or expired. Request a new link from your agent.",
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

const pageStyle = `body{font-family:sans-serif;max-width:600px;margin:50px auto;padding:20px}
.box{padding:20px;border-radius:5px;margin:20px 0}
.error{color:#900;background:#fee;border:1px solid #fcc}
.ok{color:#060;background:#efe;border:1px solid #cfc}
.info{background:#e3f2fd}
input{width:100%;padding:10px;font-size:16px;margin:10px 0;box-sizing:border-box}
button{padding:12px 30px;font-size:16px;width:100%;cursor:pointer}`

const invalidPage = `<!DOCTYPE html>
<html><head><title>Authentication</title><style>` + pageStyle + `</style></head>
<body><h1>Invalid Link</h1>
<div class="box error">This authentication link is invalid or expired.
Request a new link from your agent.</div></body></html>`

const donePage = `<!DOCTYPE html>
<html><head><title>Authentication</title><style>` + pageStyle + `</style></head>
<body><h1>Already Authenticated</h1>
<div class="box ok">You have already authenticated.
You can close this window and return to your agent.</div></body></html>`

const formPage = `<!DOCTYPE html>
<html><head><title>Authentication</title><style>` + pageStyle + `</style></head>
<body><h1>Connect Your Imagery Account</h1>
<div class="box info">Enter your API key below. It travels only over this
page and is held in memory for your current agent session.</div>
<form id="f">
<label for="key">API key</label>
<input type="password" id="key" placeholder="sk-..." required>
<div id="err" class="box error" style="display:none"></div>
<div id="ok" class="box ok" style="display:none"></div>
<button type="submit" id="btn">Authenticate</button>
</form>
<script>
document.getElementById('f').addEventListener('submit', async (e) => {
  e.preventDefault();
  const btn = document.getElementById('btn');
  const err = document.getElementById('err');
  const ok = document.getElementById('ok');
  err.style.display = 'none';
  ok.style.display = 'none';
  btn.disabled = true;
  try {
    const resp = await fetch('/auth/{{token}}', {
      method: 'POST',
      headers: {'Content-Type': 'application/json'},
      body: JSON.stringify({api_key: document.getElementById('key').value})
    });
    const data = await resp.json();
    if (resp.ok) {
      ok.textContent = data.message;
      ok.style.display = 'block';
    } else {
      err.textContent = data.message;
      err.style.display = 'block';
      btn.disabled = false;
    }
  } catch (ex) {
    err.textContent = 'Network error: ' + ex.message;
    err.style.display = 'block';
    btn.disabled = false;
  }
});
</script></body></html>`
