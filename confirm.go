package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/atotto/clipboard"
)

const maxBodySize = 1 << 20 // 1MB

// confirmGate is the ephemeral loopback HTTP server that turns the automated
// flow into a human-approved one. It serves exactly three routes and resolves
// to exactly one of: submitted, cancelled, timed out.
type confirmGate struct {
	srv       *http.Server
	ln        net.Listener
	submitted chan confirmResult
	cancelled chan struct{}
	closeOnce sync.Once
	port      int
}

func newConfirmGate(port int) (*confirmGate, error) {
	g := &confirmGate{
		submitted: make(chan confirmResult, 1),
		cancelled: make(chan struct{}),
		port:      port,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", g.handleForm)
	mux.HandleFunc("POST /submit", g.handleSubmit)
	mux.HandleFunc("POST /cancel", g.handleCancel)

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("confirmation server listen: %w", err)
	}
	g.ln = ln
	g.port = ln.Addr().(*net.TCPAddr).Port
	g.srv = &http.Server{Handler: mux}
	go func() {
		if err := g.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("confirmation server", "err", err)
		}
	}()
	return g, nil
}

// formURL builds the confirmation page address, seeding the form with job
// facts and prefill hints as query parameters.
func (g *confirmGate) formURL(job UploadJob, detectedCategory, labelGuess string) string {
	q := url.Values{}
	q.Set("file", job.SourceFileName)
	q.Set("size", strconv.FormatInt(job.SourceFileSize, 10))
	q.Set("path", job.SourceFilePath)
	if detectedCategory != "" {
		q.Set("category", detectedCategory)
	}
	if labelGuess != "" {
		q.Set("label", labelGuess)
	}
	return fmt.Sprintf("http://127.0.0.1:%d/?%s", g.port, q.Encode())
}

func (g *confirmGate) handleForm(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(confirmFormHTML))
}

func (g *confirmGate) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var res confirmResult
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&res); err != nil {
		jsonErr(w, http.StatusBadRequest, fmt.Errorf("decode: %w", err))
		return
	}
	if res.FolderName == "" {
		jsonResp(w, http.StatusBadRequest, map[string]string{"error": "folderName required"})
		return
	}
	select {
	case g.submitted <- res:
	default: // already resolved
	}
	jsonResp(w, http.StatusOK, map[string]string{"status": "ok"})
	// Close after the response reaches the client.
	go func() {
		time.Sleep(250 * time.Millisecond)
		g.close()
	}()
}

func (g *confirmGate) handleCancel(w http.ResponseWriter, r *http.Request) {
	g.closeOnce.Do(func() {
		close(g.cancelled)
		go g.shutdown()
	})
	jsonResp(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// close is idempotent: the gate may be closed once on submit and once more
// when the timeout fires.
func (g *confirmGate) close() {
	g.closeOnce.Do(func() {
		g.shutdown()
	})
}

func (g *confirmGate) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := g.srv.Shutdown(ctx); err != nil {
		_ = g.srv.Close()
	}
}

// await blocks until the operator submits, cancels, or the wall-clock budget
// expires. Exactly one of the three resolves the wait.
func (g *confirmGate) await(ctx context.Context, timeout time.Duration) (confirmResult, error) {
	defer g.close()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-g.submitted:
		return res, nil
	case <-g.cancelled:
		return confirmResult{}, errConfirmCancelled
	case <-timer.C:
		return confirmResult{}, errConfirmTimeout
	case <-ctx.Done():
		// Caller cancellation (signal, parent teardown) is not the operator
		// letting the form lapse.
		return confirmResult{}, ctx.Err()
	}
}

// requestConfirmation runs the whole gate interaction: start the server,
// steer the already-acquired shared tab to the form (the operator confirms in
// the same tab the upload will use — a detached popup would fragment the
// session), and wait for the operator's decision.
func requestConfirmation(ctx context.Context, d driver, profile *StorageProfile, job UploadJob) (confirmResult, error) {
	gate, err := newConfirmGate(profile.ConfirmPort)
	if err != nil {
		return confirmResult{}, wrapKind(ErrKindConnect, err)
	}

	labelGuess := ""
	if clip, err := clipboard.ReadAll(); err == nil && len(clip) <= 64 {
		labelGuess = clip
	}
	detected := job.Category
	if detected == "" {
		detected = detectCategory(profile, job.SourceFilePath)
	}

	navCtx, navCancel := context.WithTimeout(ctx, profile.NavigateTimeout())
	defer navCancel()
	if err := d.Navigate(navCtx, gate.formURL(job, detected, labelGuess)); err != nil {
		gate.close()
		return confirmResult{}, wrapKind(ErrKindConnect, fmt.Errorf("navigate to confirmation form: %w", err))
	}

	return gate.await(ctx, profile.ConfirmTimeout())
}

func jsonResp(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("json encode", "err", err)
	}
}

func jsonErr(w http.ResponseWriter, code int, err error) {
	jsonResp(w, code, map[string]string{"error": err.Error()})
}

const confirmFormHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Confirm upload</title>
<style>
  body { font-family: system-ui, sans-serif; max-width: 560px; margin: 48px auto; color: #222; }
  h1 { font-size: 1.3rem; }
  dl { background: #f5f5f5; border-radius: 8px; padding: 16px; }
  dt { font-weight: 600; font-size: .8rem; color: #666; text-transform: uppercase; }
  dd { margin: 2px 0 12px 0; word-break: break-all; }
  label { display: block; margin-top: 16px; font-weight: 600; }
  input { width: 100%; padding: 8px; font-size: 1rem; box-sizing: border-box; }
  .row { display: flex; gap: 12px; margin-top: 24px; }
  button { padding: 10px 24px; font-size: 1rem; border-radius: 6px; border: none; cursor: pointer; }
  #go { background: #1a73e8; color: white; }
  #stop { background: #eee; }
</style>
</head>
<body>
<h1>Confirm upload</h1>
<dl>
  <dt>File</dt><dd id="file"></dd>
  <dt>Size</dt><dd id="size"></dd>
  <dt>Path</dt><dd id="path"></dd>
</dl>
<label for="category">Category</label>
<input id="category" autocomplete="off">
<label for="folder">Folder label</label>
<input id="folder" autocomplete="off" autofocus>
<div class="row">
  <button id="go">Upload</button>
  <button id="stop">Cancel</button>
</div>
<script>
const q = new URLSearchParams(location.search);
document.getElementById('file').textContent = q.get('file') || '';
document.getElementById('size').textContent = (Number(q.get('size') || 0) / 1024).toFixed(1) + ' KB';
document.getElementById('path').textContent = q.get('path') || '';
document.getElementById('category').value = q.get('category') || '';
document.getElementById('folder').value = q.get('label') || '';
document.getElementById('go').onclick = async () => {
  await fetch('/submit', {
    method: 'POST',
    headers: {'Content-Type': 'application/json'},
    body: JSON.stringify({
      category: document.getElementById('category').value.trim(),
      folderName: document.getElementById('folder').value.trim(),
    }),
  });
  document.body.innerHTML = '<h1>Submitted. You can return to the console.</h1>';
};
document.getElementById('stop').onclick = async () => {
  await fetch('/cancel', {method: 'POST'});
  document.body.innerHTML = '<h1>Cancelled.</h1>';
};
</script>
</body>
</html>
`
