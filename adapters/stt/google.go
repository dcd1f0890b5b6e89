package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/satriahrh/bmschat/domain/repositories"
)

// ErrStreamStopped is returned when audio is written after Stop
var ErrStreamStopped = errors.New("recognition stream stopped")

const maxAlternatives = 3

// recognizeStream is the part of the gRPC stream the recognizer uses
type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

// GoogleRecognizer implements repositories.SpeechRecognizer with Google
// Cloud Speech streaming recognition and interim results
type GoogleRecognizer struct {
	open   func(ctx context.Context) (recognizeStream, error)
	close  func() error
	logger *zap.Logger
}

// NewGoogleRecognizer creates a recognizer using application default
// credentials
func NewGoogleRecognizer(ctx context.Context, logger *zap.Logger) (*GoogleRecognizer, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return &GoogleRecognizer{
		open: func(ctx context.Context) (recognizeStream, error) {
			return client.StreamingRecognize(ctx)
		},
		close:  client.Close,
		logger: logger,
	}, nil
}

// Close releases the speech client
func (g *GoogleRecognizer) Close() error {
	if g.close == nil {
		return nil
	}
	return g.close()
}

// Start implements repositories.SpeechRecognizer
func (g *GoogleRecognizer) Start(ctx context.Context, config repositories.AudioConfig, handler repositories.RecognitionHandler) (repositories.RecognitionStream, error) {
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}

	stream, err := g.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	// Send initial configuration
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   encoding,
					SampleRateHertz:            int32(config.SampleRate),
					LanguageCode:               config.Language,
					MaxAlternatives:            maxAlternatives,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: true,
			},
		},
	}); err != nil {
		stream.CloseSend()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	s := &googleStream{
		stream:  stream,
		handler: handler,
		logger:  g.logger,
		done:    make(chan struct{}),
	}
	go s.receiveResults()
	return s, nil
}

type googleStream struct {
	stream  recognizeStream
	handler repositories.RecognitionHandler
	logger  *zap.Logger

	sendMu   sync.Mutex
	stopped  bool
	stopOnce sync.Once
	done     chan struct{}
}

// Write implements repositories.RecognitionStream
func (s *googleStream) Write(audio []byte) error {
	if len(audio) == 0 {
		return nil
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.stopped {
		return ErrStreamStopped
	}
	if err := s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

// Stop implements repositories.RecognitionStream. It only half-closes the
// stream: the receiver still delivers the last results and then OnEnd.
func (s *googleStream) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.sendMu.Lock()
		defer s.sendMu.Unlock()
		s.stopped = true
		err = s.stream.CloseSend()
	})
	return err
}

func (s *googleStream) receiveResults() {
	defer close(s.done)

	for {
		resp, err := s.stream.Recv()
		if err == io.EOF {
			s.handler.OnEnd()
			return
		}
		if err != nil {
			s.logger.Debug("Recognition stream failed", zap.Error(err))
			s.handler.OnError(errorKind(err), err)
			s.handler.OnEnd()
			return
		}

		if resp.Error != nil && resp.Error.Code != 0 {
			err := status.ErrorProto(resp.Error)
			s.handler.OnError(errorKind(err), err)
			continue
		}

		for _, result := range resp.Results {
			if converted, ok := convertResult(result); ok {
				s.handler.OnResult(converted)
			}
		}
	}
}

func convertResult(result *speechpb.StreamingRecognitionResult) (repositories.RecognitionResult, bool) {
	if len(result.Alternatives) == 0 {
		return repositories.RecognitionResult{}, false
	}

	best := result.Alternatives[0]
	out := repositories.RecognitionResult{
		Transcript: strings.TrimSpace(best.Transcript),
		Final:      result.IsFinal,
		Confidence: float64(best.Confidence),
	}
	if !result.IsFinal {
		// interim results carry stability, not confidence
		out.Confidence = float64(result.Stability)
		return out, out.Transcript != ""
	}
	for _, alt := range result.Alternatives {
		out.Alternatives = append(out.Alternatives, repositories.RecognitionAlternative{
			Transcript: strings.TrimSpace(alt.Transcript),
			Confidence: float64(alt.Confidence),
		})
	}
	return out, true
}

// errorKind maps gRPC failures onto recognition error names
func errorKind(err error) string {
	if errors.Is(err, context.Canceled) {
		return "aborted"
	}
	switch status.Code(err) {
	case codes.Canceled:
		return "aborted"
	case codes.PermissionDenied, codes.Unauthenticated:
		return "service-not-allowed"
	case codes.Unavailable, codes.DeadlineExceeded:
		return "network"
	case codes.OutOfRange, codes.InvalidArgument:
		// no audio within the stream time limit
		return "no-speech"
	default:
		return "unknown"
	}
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch strings.ToUpper(encoding) {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "AMR":
		return speechpb.RecognitionConfig_AMR, nil
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported audio encoding: %s", encoding)
	}
}
