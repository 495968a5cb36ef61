package bot

import "context"

// Conversation is one chat session with a user.
// Receive blocks until the user replies or ctx is done.
type Conversation interface {
	SendText(ctx context.Context, text string) error
	SendVideo(ctx context.Context, path string) error
	Receive(ctx context.Context) (string, error)
}

// FileUploader is implemented by conversations that can deliver large
// files as attachments instead of inline video.
type FileUploader interface {
	UploadFile(ctx context.Context, path, name string) error
}
