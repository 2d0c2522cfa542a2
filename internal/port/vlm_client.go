package port

import "context"

// SubmitInput carries an image payload for the vision-language model.
type SubmitInput struct {
	ImageBytes  []byte
	ContentType string
}

// VLMClient abstracts the remote vision-language model. Submit returns the
// model's raw textual reply; callers are responsible for turning that
// untrusted text into structured data. Transport failures and timeouts are
// reported as *vlm.TransportError.
type VLMClient interface {
	Submit(ctx context.Context, input SubmitInput) (string, error)
}
