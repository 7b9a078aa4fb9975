// Package polly synthesizes reply audio through Amazon Polly and hands back
// a file reference for the enhancement layer to attach.
package polly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

const defaultVoice = "Joanna"

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// Config tunes the synthesizer.
type Config struct {
	Region    string
	Engine    string
	OutputDir string
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Region) == "" {
		c.Region = "us-east-1"
	}
	if strings.TrimSpace(c.Engine) == "" {
		c.Engine = "neural"
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		c.OutputDir = "audio"
	}
	return c
}

// Synthesizer converts reply text into MP3 files keyed by voice reference.
// The AWS client is resolved lazily so construction never needs credentials.
type Synthesizer struct {
	mu     sync.Mutex
	client synthClient
	cfg    Config
}

// New builds a synthesizer that resolves its AWS client on first use.
func New(cfg Config) *Synthesizer {
	return NewWithClient(cfg, nil)
}

// NewWithClient injects a client, used by tests.
func NewWithClient(cfg Config, client synthClient) *Synthesizer {
	return &Synthesizer{client: client, cfg: cfg.withDefaults()}
}

// Synthesize renders text with the given voice and returns the audio file
// path. The caller's context bounds the call.
func (s *Synthesizer) Synthesize(ctx context.Context, voiceRef, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("polly: text is required")
	}
	if strings.TrimSpace(voiceRef) == "" {
		voiceRef = defaultVoice
	}

	client, err := s.resolveClient()
	if err != nil {
		return "", err
	}

	engine := pollytypes.EngineStandard
	if strings.EqualFold(s.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}

	output, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(voiceRef),
	})
	if err != nil {
		return "", normalizeError(err)
	}
	if output == nil || output.AudioStream == nil {
		return "", fmt.Errorf("polly: empty audio stream")
	}
	defer output.AudioStream.Close()

	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("polly: create output dir: %w", err)
	}
	ref := filepath.Join(s.cfg.OutputDir, "audio-"+uuid.NewString()+".mp3")
	file, err := os.Create(ref)
	if err != nil {
		return "", fmt.Errorf("polly: create audio file: %w", err)
	}
	defer file.Close()
	if _, err := io.Copy(file, output.AudioStream); err != nil {
		return "", fmt.Errorf("polly: write audio file: %w", err)
	}
	return ref, nil
}

func normalizeError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("polly: synthesis timed out: %w", err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException":
			return fmt.Errorf("polly: throttled: %w", err)
		case "InvalidSsmlException", "TextLengthExceededException", "LexiconNotFoundException":
			return fmt.Errorf("polly: rejected input: %w", err)
		default:
			return fmt.Errorf("polly: service error %s: %w", apiErr.ErrorCode(), err)
		}
	}
	return fmt.Errorf("polly: transport error: %w", err)
}

func (s *Synthesizer) resolveClient() (synthClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(s.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("polly: load aws config: %w", err)
	}
	s.client = polly.NewFromConfig(awsCfg)
	return s.client, nil
}
