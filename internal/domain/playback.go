package domain

import "fmt"

// CommandKind enumerates playback commands.
type CommandKind int

const (
	CommandPlay CommandKind = iota
	CommandPause
	CommandResume
	CommandStop
)

func (k CommandKind) String() string {
	switch k {
	case CommandPlay:
		return "play"
	case CommandPause:
		return "pause"
	case CommandResume:
		return "resume"
	case CommandStop:
		return "stop"
	default:
		return fmt.Sprintf("command(%d)", int(k))
	}
}

// PlaybackCommand is sent once to the playback worker, which takes ownership of Audio.
type PlaybackCommand struct {
	Kind  CommandKind
	Audio []byte
}

func PlayCommand(audio []byte) PlaybackCommand { return PlaybackCommand{Kind: CommandPlay, Audio: audio} }
func PauseCommand() PlaybackCommand            { return PlaybackCommand{Kind: CommandPause} }
func ResumeCommand() PlaybackCommand           { return PlaybackCommand{Kind: CommandResume} }
func StopCommand() PlaybackCommand             { return PlaybackCommand{Kind: CommandStop} }

// StatusKind enumerates playback status reports.
type StatusKind int

const (
	StatusPlaying StatusKind = iota
	StatusLevel
	StatusPaused
	StatusFinished
	StatusError
)

func (k StatusKind) String() string {
	switch k {
	case StatusPlaying:
		return "playing"
	case StatusLevel:
		return "level"
	case StatusPaused:
		return "paused"
	case StatusFinished:
		return "finished"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(k))
	}
}

// PlaybackStatus is reported by the playback worker. Level is set for StatusLevel,
// Message for StatusError.
type PlaybackStatus struct {
	Kind    StatusKind
	Level   float64
	Message string
}
