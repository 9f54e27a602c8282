package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/vigilsec/vigil/pkg/config"
	"github.com/vigilsec/vigil/pkg/httputil"
)

// TaskRemoteClassify is the optional independent task backed by an external
// classifier service.
const TaskRemoteClassify = "remote_classify"

// RemoteClassifier calls an external classification endpoint that accepts
// {"text": ...} and returns {"score": 0..1, "label": ..., "confidence":
// 0..1}. Any transport or decode failure degrades the task; the engine
// never depends on the remote being up.
type RemoteClassifier struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

type remoteClassifyRequest struct {
	Text string `json:"text"`
}

type remoteClassifyResponse struct {
	Score      float64 `json:"score"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// NewRemoteClassifier reads its endpoint from VIGIL_CLASSIFIER_URL. Returns
// nil when no endpoint is configured; callers skip registration in that
// case.
func NewRemoteClassifier() *RemoteClassifier {
	endpoint := config.GetEnv("VIGIL_CLASSIFIER_URL", "")
	if endpoint == "" {
		return nil
	}
	return &RemoteClassifier{
		endpoint: endpoint,
		apiKey:   config.GetEnv("VIGIL_CLASSIFIER_API_KEY", ""),
		client:   httputil.Client(httputil.TierFast),
	}
}

// Task wraps the classifier as an independent analysis task.
func (rc *RemoteClassifier) Task() Task {
	return Task{Name: TaskRemoteClassify, Phase: PhaseIndependent, Run: rc.run}
}

func (rc *RemoteClassifier) run(ctx context.Context, req AnalysisRequest, conv *ConversationContext, prior map[string]ModuleOutput) (ModuleOutput, error) {
	payload, err := json.Marshal(remoteClassifyRequest{Text: req.Text})
	if err != nil {
		return ModuleOutput{}, fmt.Errorf("encode classify request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, rc.endpoint, bytes.NewReader(payload))
	if err != nil {
		return ModuleOutput{}, fmt.Errorf("build classify request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if rc.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+rc.apiKey)
	}

	resp, err := rc.client.Do(httpReq)
	if err != nil {
		return ModuleOutput{}, fmt.Errorf("classifier call: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return ModuleOutput{}, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	body, err := httputil.ReadResponseBody(resp.Body, httputil.MaxResponseSize)
	if err != nil {
		return ModuleOutput{}, fmt.Errorf("read classifier response: %w", err)
	}
	var result remoteClassifyResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return ModuleOutput{}, fmt.Errorf("decode classifier response: %w", err)
	}

	out := NewModuleOutput(TaskRemoteClassify, result.Score, result.Confidence)
	if result.Label != "" {
		out.Extra["label"] = result.Label
		out.Evidence = append(out.Evidence, Evidence{
			Type: "remote_classification",
			Data: map[string]any{"label": result.Label, "score": result.Score},
		})
	}
	return out, nil
}
