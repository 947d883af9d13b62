// Package stt adapts Google Cloud Speech-to-Text for the development
// server's transcription pipeline.
package stt

import (
	"context"
	"fmt"
	"io"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/sehatica/voxconsult/domain/repositories"
)

// GoogleRecognizer implements speech recognition on Google Cloud.
type GoogleRecognizer struct {
	logger *zap.Logger
}

var _ repositories.SpeechToText = (*GoogleRecognizer)(nil)

// NewGoogleRecognizer builds a recognizer. Credentials come from the
// standard GOOGLE_APPLICATION_CREDENTIALS environment.
func NewGoogleRecognizer(logger *zap.Logger) *GoogleRecognizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoogleRecognizer{logger: logger}
}

// InitTranscribeStreaming opens one streaming recognition session.
func (g *GoogleRecognizer) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating speech client: %w", err)
	}

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("opening recognize stream: %w", err)
	}

	encoding, err := audioEncoding(config.Encoding)
	if err != nil {
		stream.CloseSend()
		client.Close()
		return nil, err
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        encoding,
					SampleRateHertz: int32(config.SampleRate),
					LanguageCode:    config.Language,
				},
				// Interim results feed the live caption stream; the
				// utterance still closes on a single final result.
				InterimResults:  true,
				SingleUtterance: true,
			},
		},
	}); err != nil {
		stream.CloseSend()
		client.Close()
		return nil, fmt.Errorf("sending recognition config: %w", err)
	}

	g.logger.Debug("recognition stream opened",
		zap.String("language", config.Language),
		zap.Int("sample_rate", config.SampleRate))

	return &recognitionStream{
		client:   client,
		stream:   stream,
		ctx:      ctx,
		logger:   g.logger,
		finals:   make(chan string, 1),
		errs:     make(chan error, 1),
		partials: make(chan string, 16),
	}, nil
}

// TranscribeAudio recognizes a complete utterance in one shot.
func (g *GoogleRecognizer) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	stream, err := g.InitTranscribeStreaming(ctx, config)
	if err != nil {
		return "", err
	}
	if err := stream.Stream(audioData); err != nil {
		return "", err
	}
	return stream.End()
}

type recognitionStream struct {
	client *speech.Client
	stream speechpb.Speech_StreamingRecognizeClient
	ctx    context.Context
	logger *zap.Logger

	started  bool
	gotAudio bool
	finals   chan string
	errs     chan error
	partials chan string
}

// Partials exposes interim transcripts. Consumers that only need the final
// text can ignore it; entries are dropped rather than block recognition.
func (r *recognitionStream) Partials() <-chan string {
	return r.partials
}

func (r *recognitionStream) Stream(data []byte) error {
	if !r.started {
		r.started = true
		go r.receive()
	}
	if len(data) == 0 {
		return nil
	}
	r.gotAudio = true
	if err := r.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: data,
		},
	}); err != nil {
		return fmt.Errorf("sending audio: %w", err)
	}
	return nil
}

func (r *recognitionStream) End() (string, error) {
	defer r.client.Close()

	if !r.gotAudio {
		return "", fmt.Errorf("no audio received")
	}
	if err := r.stream.CloseSend(); err != nil {
		return "", fmt.Errorf("closing audio stream: %w", err)
	}

	select {
	case <-r.ctx.Done():
		return "", fmt.Errorf("waiting for transcript: %w", r.ctx.Err())
	case err := <-r.errs:
		return "", err
	case transcript := <-r.finals:
		if transcript == "" {
			return "", fmt.Errorf("no speech detected")
		}
		return transcript, nil
	}
}

func (r *recognitionStream) receive() {
	defer close(r.finals)
	defer close(r.errs)
	defer close(r.partials)

	var final string
	for {
		resp, err := r.stream.Recv()
		if err == io.EOF {
			r.finals <- final
			return
		}
		if err != nil {
			r.errs <- fmt.Errorf("receiving recognition result: %w", err)
			return
		}
		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			transcript := result.Alternatives[0].Transcript
			if result.IsFinal {
				final = transcript
				continue
			}
			select {
			case r.partials <- transcript:
			default:
			}
		}
	}
}

// audioEncoding maps the wire encoding names onto the Speech API enum.
func audioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "pcm", "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
