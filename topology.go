package xcorr

import (
	"context"
	"fmt"

	"github.com/trickstertwo/xlog"
)

// GroupStart replays a stream from its first entry.
const GroupStart = "0"

// GroupSpec names a consumer group to ensure on a stream.
type GroupSpec struct {
	Stream string
	Group  string
	Start  string
}

// Topology idempotently ensures the streams and consumer groups a process needs.
type Topology struct {
	broker  Broker
	logger  *xlog.Logger
	streams []string
	groups  []GroupSpec
}

// NewTopology returns a Topology for streams and groups. Empty group starts default to GroupStart.
func NewTopology(b Broker, logger *xlog.Logger, streams []string, groups ...GroupSpec) *Topology {
	if logger == nil {
		logger = xlog.Default()
	}
	return &Topology{broker: b, logger: logger, streams: streams, groups: groups}
}

// Init creates missing streams (with a bootstrap entry) and missing groups.
// Existing streams and groups are left alone. Any other failure is returned and
// should abort startup.
func (t *Topology) Init(ctx context.Context) error {
	for _, s := range t.streams {
		created, err := t.broker.EnsureStream(ctx, s)
		if err != nil {
			return fmt.Errorf("xcorr: ensure stream %q: %w", s, err)
		}
		if created {
			t.logger.Info().Str("stream", s).Msg("xcorr: stream created")
		} else {
			t.logger.Debug().Str("stream", s).Msg("xcorr: stream exists")
		}
	}
	for _, g := range t.groups {
		if err := t.ensureGroup(ctx, g); err != nil {
			return err
		}
	}
	return nil
}

func (t *Topology) ensureGroup(ctx context.Context, g GroupSpec) error {
	start := g.Start
	if start == "" {
		start = GroupStart
	}
	created, err := t.broker.EnsureGroup(ctx, g.Stream, g.Group, start)
	if err != nil {
		return fmt.Errorf("xcorr: ensure group %q on %q: %w", g.Group, g.Stream, err)
	}
	if created {
		t.logger.Info().Str("stream", g.Stream).Str("group", g.Group).Str("start", start).Msg("xcorr: consumer group created")
	} else {
		t.logger.Info().Str("stream", g.Stream).Str("group", g.Group).Msg("xcorr: consumer group already exists")
	}
	return nil
}
