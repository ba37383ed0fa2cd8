package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"memo/internal/capture"
	"memo/internal/engine"
	"memo/internal/ipc"
	"memo/internal/playback"
	"memo/internal/session"
	"memo/internal/store"
	"memo/pkg/transport"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	dataDir := cli.StringP("data", "d", defaultDataDir(), "Local state directory (resume positions)")
	storeURL := cli.StringP("store", "s", "", "Clip store base URL (empty: in-memory store)")
	surfaceURL := cli.StringP("surface", "w", "", "Websocket transport surface URL (optional)")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	log.Info("Booting up")

	godotenv.Load(*envFile)
	if *storeURL == "" {
		*storeURL = os.Getenv("MEMO_STORE_URL")
	}

	recorder := capture.NewController()
	if err := recorder.Init(); err != nil {
		log.Error("Failed to init audio", "err", err)
		os.Exit(1)
	}
	defer recorder.Close()

	log.Debug("Loaded recorder")

	resume, err := store.OpenResumeStore(*dataDir)
	if err != nil {
		log.Error("Failed to open resume store", "dir", *dataDir, "err", err)
		os.Exit(1)
	}
	defer resume.Close()

	var clips store.ClipStore
	if *storeURL != "" {
		clips = store.NewHTTPStore(*storeURL)
		log.Debug("Using remote clip store", "url", *storeURL)
	} else {
		clips = store.NewMemoryStore()
		log.Warn("No clip store configured, clips will not survive restarts")
	}

	player := playback.New(playback.NewSpeakerDevice(), resume)
	pub := session.NewPublisher()
	mgr := session.NewManager(player, pub)
	mgr.Configure()
	if err := mgr.Activate(); err != nil {
		log.Error("Failed to activate audio session", "err", err)
		os.Exit(1)
	}
	player.SetNotify(func(playback.Status) { mgr.Republish() })

	coord := engine.NewCoordinator(recorder, player, clips, resume, mgr)

	if *surfaceURL != "" {
		go runSurface(*surfaceURL, pub, mgr)
	}

	if err := ipc.StartServer(func(msg ipc.ControlMessage) ipc.Reply {
		return handleControl(coord, mgr, msg)
	}); err != nil {
		log.Error("Failed ipc server", "err", err)
		os.Exit(1)
	}

	log.Info("Boot up - successful")
	select {}
}

func handleControl(coord *engine.Coordinator, mgr *session.Manager, msg ipc.ControlMessage) ipc.Reply {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	switch msg.Cmd {
	case "record":
		q, err := capture.ParseQuality(msg.Quality)
		if err != nil {
			return fail(err)
		}
		if _, err := coord.StartRecording(q); err != nil {
			return fail(err)
		}
		return ok(nil)

	case "pause-rec":
		return status(coord.PauseRecording())
	case "resume-rec":
		return status(coord.ResumeRecording())

	case "stop-rec":
		meta, err := coord.StopRecording(ctx, msg.Title)
		if err != nil {
			return fail(err)
		}
		return ok(meta)

	case "discard":
		return status(coord.DiscardRecording())

	case "play":
		return status(coord.PlayClip(ctx, msg.Clip))
	case "pause":
		return status(coord.PausePlayback())
	case "seek":
		return status(coord.Seek(msg.Value))
	case "skip":
		return status(coord.Skip(msg.Value))
	case "rate":
		return status(coord.SetRate(msg.Value))
	case "stop":
		return status(coord.StopPlayback())

	case "trim-range":
		return status(coord.SetTrimRange(msg.Clip, msg.Value, msg.Value2))
	case "trim":
		return status(coord.ApplyTrim(ctx, msg.Clip))

	case "delete":
		return status(coord.DeleteClip(ctx, msg.Clip))

	case "status":
		return ok(coord.PlaybackStatus())

	case "quit":
		if err := coord.StopPlayback(); err != nil {
			log.Warn("Failed to stop playback on quit", "err", err)
		}
		mgr.Deactivate()
		// let the reply reach memoctl before the process dies
		go func() {
			time.Sleep(100 * time.Millisecond)
			os.Exit(0)
		}()
		return ok(nil)

	default:
		log.Warn("Unknown command", "cmd", msg.Cmd)
		return ipc.Reply{OK: false, Error: "unknown command: " + msg.Cmd}
	}
}

// runSurface mirrors now-playing state to the websocket surface and feeds
// its transport commands back into the session manager.
func runSurface(url string, pub *session.Publisher, mgr *session.Manager) {
	conn, err := transport.Dial(url, 5*time.Second)
	if err != nil {
		log.Error("Failed to reach transport surface", "err", err)
		return
	}
	log.Info("Connected to transport surface", "url", url)

	go func() {
		for np := range pub.Subscribe() {
			if err := conn.WriteFrame("nowPlaying", np); err != nil {
				log.Warn("Failed to publish now-playing", "err", err)
			}
		}
	}()

	for {
		in := conn.Read()
		switch in.Kind {
		case transport.CONN_CLOSE:
			log.Warn("Surface connection lost, reconnecting", "url", url)
			conn.TryReconn()
			log.Info("Reconnected to transport surface")

		case transport.READ_FAILURE:
			log.Error("Failed to read surface command", "err", in.Err)

		case transport.READ_OK:
			var cmd session.Command
			if err := json.Unmarshal(in.Msg, &cmd); err != nil {
				log.Warn("Bad surface command", "msg", string(in.Msg), "err", err)
				continue
			}
			if err := mgr.Handle(cmd); err != nil {
				log.Warn("Surface command failed", "cmd", cmd.Kind, "err", err)
			}
		}
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".memod"
	}
	return home + "/.local/share/memod"
}

func ok(data any) ipc.Reply { return ipc.Reply{OK: true, Data: data} }

func fail(err error) ipc.Reply { return ipc.Reply{OK: false, Error: err.Error()} }

func status(err error) ipc.Reply {
	if err != nil {
		return fail(err)
	}
	return ok(nil)
}
