package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"voicechat/internal/domain"
	"voicechat/internal/ports"
)

// turnFinisher turns one stopped recording into one user message: wait for
// the clip, transcribe it, log it, send it.
type turnFinisher struct {
	transcriber ports.Transcriber
	channel     ports.Channel
	events      ports.EventSink
	logger      *slog.Logger
	appendMsg   func(domain.Message)
}

func newTurnFinisher(
	transcriber ports.Transcriber,
	channel ports.Channel,
	events ports.EventSink,
	logger *slog.Logger,
	appendMsg func(domain.Message),
) turnFinisher {
	return turnFinisher{
		transcriber: transcriber,
		channel:     channel,
		events:      events,
		logger:      logger,
		appendMsg:   appendMsg,
	}
}

// Finish reports failures to the sink and never panics the session; a
// cancelled ctx ends the turn silently.
func (f turnFinisher) Finish(ctx context.Context, pending ports.PendingClip) {
	clip, err := pending.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		f.logger.Warn("recording could not be finalized", "error", err)
		f.events.SessionError(domain.ErrorCodeAudioStop, fmt.Sprintf("recording failed: %v", err))
		return
	}

	text, err := f.transcriber.Transcribe(ctx, clip)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		f.logger.Error("transcription failed", "error", err, "bytes", len(clip.Data))
		f.events.SessionError(domain.ErrorCodeTranscription, err.Error())
		return
	}

	f.appendMsg(domain.NewMessage(domain.OriginUser, text))
	if !f.channel.Send(text) {
		f.logger.Info("channel disconnected, message not delivered")
	}
}
