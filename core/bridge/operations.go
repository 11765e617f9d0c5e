package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/cordum/devserver/core/assets"
	"github.com/cordum/devserver/core/infra/bus"
	"github.com/cordum/devserver/core/infra/logging"
)

// operation is one plugin method. Mutating operations run on the queue.
type operation struct {
	mutating bool
	run      func(ctx context.Context, body []byte) (any, error)
}

type setServerRequest struct {
	URL         string `json:"url"`
	Persist     bool   `json:"persist"`
	AutoRestart *bool  `json:"autoRestart"`
}

type clearServerRequest struct {
	AutoRestart *bool `json:"autoRestart"`
}

type downloadAssetRequest struct {
	URL       string `json:"url"`
	Overwrite bool   `json:"overwrite"`
	Checksum  string `json:"checksum"`
}

type cleartextRequest struct {
	Allow bool `json:"allow"`
}

type schemeRequest struct {
	Scheme string `json:"scheme"`
}

type assetRequest struct {
	AssetName string `json:"assetName"`
	Persist   bool   `json:"persist"`
}

// ServerResult is returned by the server operations.
type ServerResult struct {
	URL     string `json:"url"`
	Persist bool   `json:"persist"`
}

func (s *Server) operations() map[string]operation {
	return map[string]operation{
		"setServer":           {mutating: true, run: s.opSetServer},
		"getServer":           {run: s.opGetServer},
		"clearServer":         {mutating: true, run: s.opClearServer},
		"applyServer":         {run: s.opApplyServer},
		"downloadAsset":       {mutating: true, run: s.opDownloadAsset},
		"getAssetList":        {run: s.opGetAssetList},
		"applyAsset":          {mutating: true, run: s.opApplyAsset},
		"removeAsset":         {mutating: true, run: s.opRemoveAsset},
		"restoreDefaultAsset": {mutating: true, run: s.opRestoreDefaultAsset},
		"getAssetInfo":        {run: s.opGetAssetInfo},
		"getOptions":          {run: s.opGetOptions},
		"setCleartext":        {run: s.opSetCleartext},
		"getCleartext":        {run: s.opGetCleartext},
		"setAndroidScheme":    {run: s.opSetAndroidScheme},
		"getAndroidScheme":    {run: s.opGetAndroidScheme},
		"enableDevMode":       {run: s.opSetDevMode(true)},
		"disableDevMode":      {run: s.opSetDevMode(false)},
		"isDevModeEnabled":    {run: s.opIsDevModeEnabled},
	}
}

func (s *Server) handlePlugin(w http.ResponseWriter, r *http.Request) {
	method := r.PathValue("method")
	op, ok := s.ops[method]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorEnvelope{Error: APIError{
			Code:    CodeUnknownMethod,
			Message: fmt.Sprintf("unknown method %q", method),
		}})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, fmt.Errorf("%w: read body: %v", errInvalidInput, err))
		return
	}
	if len(body) > maxBodyBytes {
		writeError(w, fmt.Errorf("%w: body too large", errInvalidInput))
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	if s.deps.Schemas.Has(method) {
		if err := s.deps.Schemas.Validate(method, body); err != nil {
			writeError(w, err)
			return
		}
	}

	var result any
	if op.mutating {
		err = s.deps.Queue.Do(r.Context(), method, func(ctx context.Context) error {
			var runErr error
			result, runErr = op.run(ctx, body)
			return runErr
		})
	} else {
		result, err = op.run(r.Context(), body)
	}
	if err != nil {
		logging.Warn("bridge", "plugin call failed", "method", method, "error", err)
		writeError(w, err)
		return
	}
	if result == nil {
		result = struct{}{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func decodeBody(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidInput, err)
	}
	return nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func (s *Server) opSetServer(ctx context.Context, body []byte) (any, error) {
	var req setServerRequest
	if err := decodeBody(body, &req); err != nil {
		return nil, err
	}
	eff, err := s.deps.State.SetRemoteURL(ctx, req.URL, req.Persist, boolOr(req.AutoRestart, true))
	if err != nil {
		return nil, err
	}
	return ServerResult{URL: eff.URL, Persist: eff.Persist}, nil
}

func (s *Server) opGetServer(ctx context.Context, _ []byte) (any, error) {
	eff, err := s.deps.State.Effective(ctx)
	if err != nil {
		return nil, err
	}
	return ServerResult{URL: eff.URL, Persist: eff.Persist}, nil
}

func (s *Server) opClearServer(ctx context.Context, body []byte) (any, error) {
	var req clearServerRequest
	if err := decodeBody(body, &req); err != nil {
		return nil, err
	}
	if err := s.deps.State.Clear(ctx, boolOr(req.AutoRestart, true)); err != nil {
		return nil, err
	}
	return map[string]bool{"cleared": true}, nil
}

func (s *Server) opApplyServer(ctx context.Context, _ []byte) (any, error) {
	eff, err := s.deps.State.Apply(ctx)
	if err != nil {
		return nil, err
	}
	return ServerResult{URL: eff.URL, Persist: eff.Persist}, nil
}

func (s *Server) opDownloadAsset(ctx context.Context, body []byte) (any, error) {
	var req downloadAssetRequest
	if err := decodeBody(body, &req); err != nil {
		return nil, err
	}
	res, err := s.deps.Installer.Install(ctx, assets.InstallRequest{
		URL:       req.URL,
		Overwrite: req.Overwrite,
		Checksum:  req.Checksum,
	})
	if err != nil {
		return nil, err
	}
	s.publish(bus.EventAssetInstalled, map[string]any{
		"name":    res.Name,
		"skipped": res.Skipped,
		"digest":  res.Digest,
	})
	return struct{}{}, nil
}

func (s *Server) opGetAssetList(_ context.Context, _ []byte) (any, error) {
	names, err := s.deps.Store.List()
	if err != nil {
		return nil, err
	}
	return map[string][]string{"assets": names}, nil
}

func (s *Server) opGetAssetInfo(_ context.Context, body []byte) (any, error) {
	var req assetRequest
	if err := decodeBody(body, &req); err != nil {
		return nil, err
	}
	return s.deps.Store.Info(req.AssetName)
}

func (s *Server) opApplyAsset(ctx context.Context, body []byte) (any, error) {
	var req assetRequest
	if err := decodeBody(body, &req); err != nil {
		return nil, err
	}
	if _, err := s.deps.State.ActivateBundle(ctx, req.AssetName, req.Persist); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (s *Server) opRemoveAsset(_ context.Context, body []byte) (any, error) {
	var req assetRequest
	if err := decodeBody(body, &req); err != nil {
		return nil, err
	}
	if err := s.deps.Store.Remove(req.AssetName); err != nil {
		return nil, err
	}
	s.publish(bus.EventAssetRemoved, map[string]any{"name": req.AssetName})
	return struct{}{}, nil
}

func (s *Server) opRestoreDefaultAsset(ctx context.Context, _ []byte) (any, error) {
	if err := s.deps.State.Clear(ctx, true); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (s *Server) opGetOptions(ctx context.Context, _ []byte) (any, error) {
	return s.deps.State.Options(ctx)
}

func (s *Server) opSetDevMode(enabled bool) func(context.Context, []byte) (any, error) {
	return func(ctx context.Context, _ []byte) (any, error) {
		if err := s.deps.State.SetDevMode(ctx, enabled); err != nil {
			return nil, err
		}
		return map[string]bool{"enabled": enabled}, nil
	}
}

func (s *Server) opIsDevModeEnabled(ctx context.Context, _ []byte) (any, error) {
	enabled, err := s.deps.State.DevMode(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"enabled": enabled}, nil
}

func (s *Server) opSetCleartext(ctx context.Context, body []byte) (any, error) {
	var req cleartextRequest
	if err := decodeBody(body, &req); err != nil {
		return nil, err
	}
	if err := s.deps.State.SetCleartext(ctx, req.Allow); err != nil {
		return nil, err
	}
	return map[string]bool{"cleartext": req.Allow}, nil
}

func (s *Server) opGetCleartext(ctx context.Context, _ []byte) (any, error) {
	allow, err := s.deps.State.Cleartext(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"cleartext": allow}, nil
}

func (s *Server) opSetAndroidScheme(ctx context.Context, body []byte) (any, error) {
	var req schemeRequest
	if err := decodeBody(body, &req); err != nil {
		return nil, err
	}
	if err := s.deps.State.SetScheme(ctx, req.Scheme); err != nil {
		return nil, err
	}
	return map[string]string{"scheme": req.Scheme}, nil
}

func (s *Server) opGetAndroidScheme(ctx context.Context, _ []byte) (any, error) {
	scheme, err := s.deps.State.Scheme(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"scheme": scheme}, nil
}
