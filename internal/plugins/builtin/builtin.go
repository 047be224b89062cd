// Package builtin enumerates the channel set compiled into the binary.
// Adding a channel means adding its constructor here; there is no runtime
// discovery.
package builtin

import (
	"github.com/lifelogd/lifelog-backend/internal/identity"
	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/platform/qdrant"
	"github.com/lifelogd/lifelog-backend/internal/platform/transcribe"
	"github.com/lifelogd/lifelog-backend/internal/plugins"
	"github.com/lifelogd/lifelog-backend/internal/plugins/docs"
	"github.com/lifelogd/lifelog-backend/internal/plugins/gmail"
	"github.com/lifelogd/lifelog-backend/internal/plugins/recordings"
	"github.com/lifelogd/lifelog-backend/internal/plugins/whatsapp"
	"github.com/lifelogd/lifelog-backend/internal/repos"
	"github.com/lifelogd/lifelog-backend/internal/retrieval"
	"github.com/lifelogd/lifelog-backend/internal/settings"
)

// Deps is everything any built-in channel may need.
type Deps struct {
	Store       qdrant.Store
	Ingestor    *retrieval.Ingestor
	Identity    identity.Service
	Settings    settings.Service
	Recordings  repos.RecordingRepo
	Transcriber transcribe.Transcriber
	Log         *logger.Logger
}

// All constructs every built-in channel.
func All(deps Deps) []plugins.Plugin {
	worker := recordings.NewWorker(deps.Recordings, deps.Transcriber, deps.Log)
	return []plugins.Plugin{
		whatsapp.New(deps.Ingestor, deps.Identity, deps.Settings, deps.Log),
		gmail.New(deps.Store, deps.Ingestor, deps.Identity, deps.Settings, deps.Log),
		docs.New(deps.Store, deps.Ingestor, deps.Recordings, deps.Settings, deps.Log),
		recordings.New(deps.Ingestor, deps.Recordings, worker, deps.Settings, deps.Log),
	}
}
