package spans

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lmnr-ai/ingest-core/pkg/blob"
)

// dataURLScanWindow is how many leading bytes of a URL are inspected
// for a "data:<mediatype>;base64," prefix, the way store_media's
// DATA_URL_REGEX does in language_model/chat_message.rs.
const dataURLScanWindow = 64

// rawBase64FromDataURL splits "data:<mediatype>;base64,<payload>" into
// its media type and payload, returning ok=false if url is not a data
// URL. Only the scan window is inspected before the full split.
func rawBase64FromDataURL(url string) (mediaType, payload string, ok bool) {
	window := url
	if len(window) > dataURLScanWindow {
		window = window[:dataURLScanWindow]
	}
	if !strings.HasPrefix(window, "data:") || !strings.Contains(window, ";base64,") {
		return "", "", false
	}
	comma := strings.Index(url, ",")
	if comma < 0 {
		return "", "", false
	}
	header := url[len("data:"):strings.Index(url, ";base64,")]
	return header, url[comma+1:], true
}

// externalizeMessages walks each chat message's content parts and
// replaces inline base64/raw-byte media with a blob-store URL
// reference, preserving media_type metadata (step 4;
// store_media in chat_message.rs). No-op parts (plain text, existing
// regular URLs, tool calls) pass through unchanged.
func externalizeMessages(ctx context.Context, store blob.Store, projectID string, messages []ChatMessage) ([]ChatMessage, error) {
	if store == nil {
		return messages, nil
	}
	for mi := range messages {
		for pi := range messages[mi].Content.Parts {
			part, err := externalizePart(ctx, store, projectID, messages[mi].Content.Parts[pi])
			if err != nil {
				return nil, err
			}
			messages[mi].Content.Parts[pi] = part
		}
	}
	return messages, nil
}

func externalizePart(ctx context.Context, store blob.Store, projectID string, part ContentPart) (ContentPart, error) {
	switch part.Type {
	case ContentPartImage:
		return storeInlinePart(ctx, store, projectID, part, ContentPartImageURL)
	case ContentPartDocument:
		return storeInlinePart(ctx, store, projectID, part, ContentPartDocumentURL)
	case ContentPartImageURL:
		if mediaType, payload, ok := rawBase64FromDataURL(part.URL); ok {
			return storeBase64(ctx, store, projectID, mediaType, payload, ContentPartImageURL)
		}
		return part, nil
	default:
		return part, nil
	}
}

// storeInlinePart stores an Image/Document part's base64 Data field
// and rewrites it as the corresponding *_url variant.
func storeInlinePart(ctx context.Context, store blob.Store, projectID string, part ContentPart, outType string) (ContentPart, error) {
	out, err := storeBase64(ctx, store, projectID, part.MediaType, part.Data, outType)
	if err != nil {
		return part, err
	}
	return out, nil
}

func storeBase64(ctx context.Context, store blob.Store, projectID, mediaType, b64 string, outType string) (ContentPart, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return ContentPart{}, fmt.Errorf("spans: decode inline media base64: %w", err)
	}
	key := uuid.NewString()
	url, err := store.Put(ctx, projectID, key, bytes.NewReader(raw), mediaType)
	if err != nil {
		return ContentPart{}, fmt.Errorf("spans: store inline media: %w", err)
	}
	return ContentPart{
		Type:      outType,
		URL:       url,
		MediaType: mediaType,
		Detail:    fmt.Sprintf("media_type:%s;base64", mediaType),
	}, nil
}

// messagesFromRaw round-trips a reconstructed input/output back into
// []ChatMessage for media externalization, returning ok=false when raw
// is not a chat-message array (e.g. a raw traceloop string fallback).
func messagesFromRaw(raw json.RawMessage) ([]ChatMessage, bool) {
	var msgs []ChatMessage
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, false
	}
	return msgs, true
}
