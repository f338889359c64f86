// Package channel implements named channels with per-subscriber message
// backlogs over the shared KV store. A manager instance is created per
// request, bound to a fixed list of target channels.
package channel

import (
	"fmt"
	"strconv"
	"strings"
)

// Channel name prefixes. The prefix is matched literally; nothing beyond
// an exact prefix strip is applied to the remainder.
const (
	ProjectPrefix = "projectid-"
	VideoPrefix   = "videoid-"

	// Generic is the catch-all channel for events bound to neither a
	// project nor a video.
	Generic = "generic"
)

// Kind classifies a channel name.
type Kind string

const (
	KindProject Kind = "project"
	KindVideo   Kind = "video"
	KindGeneric Kind = "generic"
	KindOpaque  Kind = "opaque"
)

// Name is a parsed channel name. ID is meaningful only for project and
// video channels.
type Name struct {
	Raw  string
	Kind Kind
	ID   int64
}

// ParseName classifies a channel name. Names carrying a known prefix but a
// non-numeric id are treated as opaque; the authorizer decides their fate.
func ParseName(raw string) Name {
	if raw == Generic {
		return Name{Raw: raw, Kind: KindGeneric}
	}
	if rest, ok := strings.CutPrefix(raw, ProjectPrefix); ok {
		if id, err := strconv.ParseInt(rest, 10, 64); err == nil {
			return Name{Raw: raw, Kind: KindProject, ID: id}
		}
	}
	if rest, ok := strings.CutPrefix(raw, VideoPrefix); ok {
		if id, err := strconv.ParseInt(rest, 10, 64); err == nil {
			return Name{Raw: raw, Kind: KindVideo, ID: id}
		}
	}
	return Name{Raw: raw, Kind: KindOpaque}
}

// ProjectChannel builds the channel name for a project id.
func ProjectChannel(id int64) string {
	return fmt.Sprintf("%s%d", ProjectPrefix, id)
}

// VideoChannel builds the channel name for a video id.
func VideoChannel(id int64) string {
	return fmt.Sprintf("%s%d", VideoPrefix, id)
}

// ProjectID returns the id of the first project channel in the list.
// A channel list contains at most one project channel.
func ProjectID(channels []string) (int64, bool) {
	for _, ch := range channels {
		if name := ParseName(ch); name.Kind == KindProject {
			return name.ID, true
		}
	}
	return 0, false
}
