package polly

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
)

type fakeClient struct {
	lastInput *polly.SynthesizeSpeechInput
	output    *polly.SynthesizeSpeechOutput
	err       error
}

func (f *fakeClient) SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error) {
	f.lastInput = params
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

type fakeAPIError struct {
	code string
}

func (e fakeAPIError) Error() string                 { return e.code }
func (e fakeAPIError) ErrorCode() string             { return e.code }
func (e fakeAPIError) ErrorMessage() string          { return e.code }
func (e fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultServer }

var _ smithy.APIError = fakeAPIError{}

func audioStream() io.ReadCloser {
	return io.NopCloser(bytes.NewReader([]byte("mp3-bytes")))
}

func TestSynthesizeWritesAudioFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	client := &fakeClient{output: &polly.SynthesizeSpeechOutput{AudioStream: audioStream()}}
	synth := NewWithClient(Config{OutputDir: dir}, client)

	ref, err := synth.Synthesize(context.Background(), "Amy", "hello there")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if filepath.Dir(ref) != dir || !strings.HasSuffix(ref, ".mp3") {
		t.Fatalf("unexpected audio ref %q", ref)
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		t.Fatalf("read audio file: %v", err)
	}
	if string(data) != "mp3-bytes" {
		t.Fatalf("unexpected audio contents %q", data)
	}

	if client.lastInput.VoiceId != pollytypes.VoiceId("Amy") {
		t.Fatalf("unexpected voice %v", client.lastInput.VoiceId)
	}
	if client.lastInput.Engine != pollytypes.EngineNeural {
		t.Fatalf("default engine must be neural, got %v", client.lastInput.Engine)
	}
}

func TestSynthesizeDefaultsVoice(t *testing.T) {
	t.Parallel()

	client := &fakeClient{output: &polly.SynthesizeSpeechOutput{AudioStream: audioStream()}}
	synth := NewWithClient(Config{OutputDir: t.TempDir(), Engine: "standard"}, client)

	if _, err := synth.Synthesize(context.Background(), "  ", "hello"); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if client.lastInput.VoiceId != pollytypes.VoiceId(defaultVoice) {
		t.Fatalf("expected default voice, got %v", client.lastInput.VoiceId)
	}
	if client.lastInput.Engine != pollytypes.EngineStandard {
		t.Fatalf("expected standard engine, got %v", client.lastInput.Engine)
	}
}

func TestSynthesizeRejectsEmptyText(t *testing.T) {
	t.Parallel()

	synth := NewWithClient(Config{OutputDir: t.TempDir()}, &fakeClient{})
	if _, err := synth.Synthesize(context.Background(), "Amy", "   "); err == nil {
		t.Fatal("expected empty text to be rejected")
	}
}

func TestSynthesizeErrorClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		err     error
		wantSub string
	}{
		{"throttled", fakeAPIError{code: "TooManyRequestsException"}, "throttled"},
		{"rejected input", fakeAPIError{code: "TextLengthExceededException"}, "rejected input"},
		{"service error", fakeAPIError{code: "ServiceFailureException"}, "service error"},
		{"timeout", context.DeadlineExceeded, "timed out"},
		{"transport", errors.New("connection reset"), "transport error"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			synth := NewWithClient(Config{OutputDir: t.TempDir()}, &fakeClient{err: tc.err})
			_, err := synth.Synthesize(context.Background(), "Amy", "hello")
			if err == nil || !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("expected error containing %q, got %v", tc.wantSub, err)
			}
		})
	}
}

func TestSynthesizeEmptyStream(t *testing.T) {
	t.Parallel()

	synth := NewWithClient(Config{OutputDir: t.TempDir()}, &fakeClient{output: &polly.SynthesizeSpeechOutput{}})
	if _, err := synth.Synthesize(context.Background(), "Amy", "hello"); err == nil {
		t.Fatal("expected empty audio stream to fail")
	}
}
