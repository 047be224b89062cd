package transcribe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/lifelogd/lifelog-backend/internal/platform/ctxutil"
	"github.com/lifelogd/lifelog-backend/internal/platform/envutil"
	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
)

// Segment is one diarized span of the transcript.
type Segment struct {
	Speaker  int     `json:"speaker"`
	Text     string  `json:"text"`
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
}

// Result is a finished transcription.
type Result struct {
	Text        string    `json:"text"`
	Segments    []Segment `json:"segments,omitempty"`
	DurationSec float64   `json:"duration_sec"`
}

// Transcriber converts one audio file into a diarized transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (*Result, error)
	Close() error
}

type gcpTranscriber struct {
	log        *logger.Logger
	client     *speech.Client
	language   string
	altLang    string
	maxRetries int
}

// NewGCP builds the Cloud Speech transcriber. Credentials come from the
// standard GOOGLE_APPLICATION_CREDENTIALS resolution.
func NewGCP(baseLog *logger.Logger) (Transcriber, error) {
	c, err := speech.NewClient(context.Background())
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	return &gcpTranscriber{
		log:        baseLog.With("service", "GCPTranscriber"),
		client:     c,
		language:   envutil.GetEnv("TRANSCRIBE_LANGUAGE", "he-IL", baseLog),
		altLang:    envutil.GetEnv("TRANSCRIBE_ALT_LANGUAGE", "en-US", baseLog),
		maxRetries: 4,
	}, nil
}

func (t *gcpTranscriber) Close() error {
	if t == nil || t.client == nil {
		return nil
	}
	return t.client.Close()
}

func (t *gcpTranscriber) Transcribe(ctx context.Context, path string) (*Result, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	audio, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return &Result{}, nil
	}

	req := &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			LanguageCode:               t.language,
			AlternativeLanguageCodes:   []string{t.altLang},
			Encoding:                   inferEncoding(path),
			EnableAutomaticPunctuation: true,
			EnableWordTimeOffsets:      true,
			DiarizationConfig: &speechpb.SpeakerDiarizationConfig{
				EnableSpeakerDiarization: true,
				MinSpeakerCount:          2,
				MaxSpeakerCount:          6,
			},
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	}

	resp, err := t.retryLR(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("longrunningrecognize: %w", err)
	}
	return parseResponse(resp), nil
}

// IsBadAudio reports whether the provider rejected the audio itself rather
// than failing transiently.
func IsBadAudio(err error) bool {
	code := status.Code(err)
	return code == codes.InvalidArgument || code == codes.OutOfRange
}

func (t *gcpTranscriber) retryLR(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error) {
	backoff := 750 * time.Millisecond
	var last error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		op, err := t.client.LongRunningRecognize(ctx, req)
		if err == nil {
			resp, werr := op.Wait(ctx)
			if werr == nil {
				return resp, nil
			}
			err = werr
		}
		last = err

		code := status.Code(err)
		if code != codes.Unavailable && code != codes.ResourceExhausted && code != codes.DeadlineExceeded {
			return nil, err
		}
		if attempt == t.maxRetries {
			break
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	return nil, last
}

func inferEncoding(path string) speechpb.RecognitionConfig_AudioEncoding {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return speechpb.RecognitionConfig_LINEAR16
	case ".flac":
		return speechpb.RecognitionConfig_FLAC
	case ".mp3":
		return speechpb.RecognitionConfig_MP3
	case ".ogg", ".opus":
		return speechpb.RecognitionConfig_OGG_OPUS
	case ".amr":
		return speechpb.RecognitionConfig_AMR
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

type word struct {
	text    string
	start   float64
	end     float64
	speaker int
}

func parseResponse(resp *speechpb.LongRunningRecognizeResponse) *Result {
	out := &Result{}
	if resp == nil || len(resp.Results) == 0 {
		return out
	}

	var full strings.Builder
	var words []word
	for _, r := range resp.Results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		alt := r.Alternatives[0]
		if strings.TrimSpace(alt.Transcript) == "" {
			continue
		}
		if full.Len() > 0 {
			full.WriteString(" ")
		}
		full.WriteString(strings.TrimSpace(alt.Transcript))

		for _, w := range alt.Words {
			if w == nil {
				continue
			}
			words = append(words, word{
				text:    w.Word,
				start:   durToSec(w.StartTime),
				end:     durToSec(w.EndTime),
				speaker: int(w.SpeakerTag),
			})
		}
	}

	out.Text = strings.TrimSpace(full.String())
	out.Segments = groupBySpeaker(words)
	if len(words) > 0 {
		out.DurationSec = words[len(words)-1].end
	}
	return out
}

// groupBySpeaker folds consecutive same-speaker words into segments.
func groupBySpeaker(words []word) []Segment {
	if len(words) == 0 {
		return nil
	}

	var segs []Segment
	cur := Segment{Speaker: words[0].speaker, StartSec: words[0].start, EndSec: words[0].end}
	var buf strings.Builder

	flush := func() {
		cur.Text = strings.TrimSpace(buf.String())
		if cur.Text != "" {
			segs = append(segs, cur)
		}
		buf.Reset()
	}

	for _, w := range words {
		if w.speaker != cur.Speaker && buf.Len() > 0 {
			flush()
			cur = Segment{Speaker: w.speaker, StartSec: w.start, EndSec: w.end}
		}
		if buf.Len() > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(w.text)
		if w.end > cur.EndSec {
			cur.EndSec = w.end
		}
	}
	flush()
	return segs
}

func durToSec(d *durationpb.Duration) float64 {
	if d == nil {
		return 0
	}
	return float64(d.Seconds) + float64(d.Nanos)/1e9
}
