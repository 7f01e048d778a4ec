package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"comfyclient/internal/bus"
	"comfyclient/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	HandleMessage(ctx context.Context, msg bus.Message) (*bus.Message, error)
	Our() types.Address
	Status() types.StatusResponse
	Ready() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not configured"))
	})

	// The websocket upgrade needs the raw writer, so /events stays outside
	// the wrapping middlewares below.
	if eventStream != nil {
		r.Get("/events", eventStream.ServeHTTP)
	}

	h := &handlers{svc: svc}
	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))
		r.Use(MetricsMiddleware)
		r.Use(requestLogger)

		r.Get("/status", h.status)
		r.Post("/messages", h.messages)
		r.With(loopbackOnly).Post("/jobs", h.jobs)
		r.Route("/admin", func(r chi.Router) {
			r.Use(loopbackOnly)
			r.Post("/router", h.setRouter)
			r.Post("/sequencer", h.setSequencer)
			r.Get("/rollup", h.rollupState)
		})
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
	})

	MountSwagger(r)
	return r
}

type handlers struct {
	svc Service
}

// status godoc
// @Summary      Client status
// @Description  Configuration, chain state summary, current job and counters.
// @Tags         client
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// messages godoc
// @Summary      Deliver a message
// @Description  Accepts a message envelope from another node. Replies with the response envelope, or 204 when there is none.
// @Tags         bus
// @Accept       json
// @Produce      json
// @Param        message  body      bus.Message  true  "Message envelope"
// @Success      200      {object}  bus.Message
// @Success      204
// @Failure      400      {object}  types.ErrorResponse
// @Failure      403      {object}  types.ErrorResponse
// @Failure      409      {object}  types.ErrorResponse
// @Failure      413      {object}  types.ErrorResponse
// @Failure      415      {object}  types.ErrorResponse
// @Failure      502      {object}  types.ErrorResponse
// @Router       /messages [post]
func (h *handlers) messages(w http.ResponseWriter, r *http.Request) {
	var msg bus.Message
	if !decodeJSON(w, r, &msg) {
		return
	}
	our := h.svc.Our()
	if msg.Source.IsZero() {
		reject("no_source")
		writeJSONError(w, http.StatusBadRequest, "message source is required")
		return
	}
	if !msg.Target.IsZero() && msg.Target.Node != our.Node {
		reject("misaddressed")
		writeJSONError(w, http.StatusBadRequest, "message is addressed to "+msg.Target.Node)
		return
	}
	// Only local processes may speak as our node.
	if msg.Source.Node == our.Node && !isLoopback(r) {
		reject("spoofed_source")
		writeJSONError(w, http.StatusForbidden, "source "+msg.Source.String()+" not accepted from "+r.RemoteAddr)
		return
	}
	if msg.Target.IsZero() {
		msg.Target = our
	}
	reply, err := h.serve(r, msg)
	// A failure that carries a reply goes back to the sender as that reply.
	if err != nil && reply == nil {
		writeError(w, r, err)
		return
	}
	if reply == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// jobs godoc
// @Summary      Submit a job
// @Description  Wraps the parameters as a RunJob from our node and returns the router's RunResponse.
// @Tags         client
// @Accept       json
// @Produce      json
// @Param        job  body      types.JobParameters  true  "Workflow and parameters"
// @Success      202  {object}  types.RunResponse
// @Failure      400  {object}  types.ErrorResponse
// @Failure      402  {object}  types.RunResponse
// @Failure      409  {object}  types.ErrorResponse
// @Failure      502  {object}  types.ErrorResponse
// @Failure      504  {object}  types.ErrorResponse
// @Router       /jobs [post]
func (h *handlers) jobs(w http.ResponseWriter, r *http.Request) {
	var params types.JobParameters
	if !decodeJSON(w, r, &params) {
		return
	}
	our := h.svc.Our()
	msg, err := bus.NewRequest(our, our, types.PublicRequest{RunJob: &params})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	msg.ExpectsResponse = true
	reply, ok := h.handle(w, r, msg)
	if !ok {
		return
	}
	if reply == nil {
		// Forwarded; the router answers later.
		writeJSON(w, http.StatusAccepted, struct{}{})
		return
	}
	var pr types.PublicResponse
	if err := reply.DecodeBody(&pr); err != nil || pr.RunJob == nil {
		writeJSONError(w, http.StatusBadGateway, "unexpected reply to RunJob")
		return
	}
	run := pr.RunJob
	switch {
	case run.JobQueued != nil:
		writeJSON(w, http.StatusAccepted, run)
	case run.PaymentRequired:
		writeJSON(w, http.StatusPaymentRequired, run)
	default:
		writeJSON(w, http.StatusBadGateway, run)
	}
}

type setRouterBody struct {
	ProcessID string `json:"process_id" example:"router:comfyui_provider:nick1udwig.os"`
}

type setSequencerBody struct {
	Address string `json:"address" example:"seq.os@sequencer:comfyui_provider:nick1udwig.os"`
}

// setRouter godoc
// @Summary      Set the router process
// @Tags         admin
// @Accept       json
// @Produce      json
// @Param        body  body      setRouterBody  true  "Router process id"
// @Success      200   {object}  types.AdminResponse
// @Failure      400   {object}  types.ErrorResponse
// @Failure      403   {object}  types.ErrorResponse
// @Router       /admin/router [post]
func (h *handlers) setRouter(w http.ResponseWriter, r *http.Request) {
	var body setRouterBody
	if !decodeJSON(w, r, &body) {
		return
	}
	h.admin(w, r, types.AdminRequest{SetRouterProcess: &types.SetRouterProcess{ProcessID: body.ProcessID}})
}

// setSequencer godoc
// @Summary      Set the rollup sequencer
// @Description  Stores the sequencer address and reads the chain state from it.
// @Tags         admin
// @Accept       json
// @Produce      json
// @Param        body  body      setSequencerBody  true  "Sequencer address"
// @Success      200   {object}  types.AdminResponse
// @Failure      400   {object}  types.ErrorResponse
// @Failure      403   {object}  types.ErrorResponse
// @Failure      502   {object}  types.ErrorResponse
// @Failure      504   {object}  types.ErrorResponse
// @Router       /admin/sequencer [post]
func (h *handlers) setSequencer(w http.ResponseWriter, r *http.Request) {
	var body setSequencerBody
	if !decodeJSON(w, r, &body) {
		return
	}
	h.admin(w, r, types.AdminRequest{SetRollupSequencer: &types.SetRollupSequencer{Address: body.Address}})
}

// rollupState godoc
// @Summary      Refresh the chain state
// @Tags         admin
// @Produce      json
// @Success      200  {object}  types.AdminResponse
// @Failure      403  {object}  types.ErrorResponse
// @Failure      409  {object}  types.ErrorResponse
// @Failure      502  {object}  types.ErrorResponse
// @Router       /admin/rollup [get]
func (h *handlers) rollupState(w http.ResponseWriter, r *http.Request) {
	h.admin(w, r, types.AdminRequest{GetRollupState: true})
}

func (h *handlers) admin(w http.ResponseWriter, r *http.Request, req types.AdminRequest) {
	our := h.svc.Our()
	msg, err := bus.NewRequest(our, our, req)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	msg.ExpectsResponse = true
	reply, ok := h.handle(w, r, msg)
	if !ok {
		return
	}
	if reply == nil || len(reply.Body) == 0 {
		writeJSON(w, http.StatusOK, types.AdminResponse{Op: req.Op()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(reply.Body)
}

// handle runs msg through the service and writes the error response on
// failure. A canceled request writes nothing.
func (h *handlers) handle(w http.ResponseWriter, r *http.Request, msg bus.Message) (*bus.Message, bool) {
	reply, err := h.serve(r, msg)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return reply, true
}

func (h *handlers) serve(r *http.Request, msg bus.Message) (*bus.Message, error) {
	ctx, cancel := handlerContext(r.Context())
	defer cancel()
	return h.svc.HandleMessage(ctx, msg)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil {
		return
	}
	writeJSONError(w, statusFor(err), err.Error())
}

// decodeJSON enforces a JSON content type and the body limit, then decodes
// into v. It writes the error response and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		reject("content_type")
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			reject("too_large")
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		reject("invalid_json")
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// loopbackOnly restricts a route to peers connecting from this machine.
func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isLoopback(r) {
			reject("not_local")
			writeJSONError(w, http.StatusForbidden, "admin requests are only accepted locally")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLoopback(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
