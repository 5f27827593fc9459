package bootstrap

// State はプロセスのライフサイクル状態を表す。
type State int32

const (
	// StateStopped は起動前または停止済みの状態。
	StateStopped State = iota
	// StateStarting は依存先への接続やリッスン準備を行っている状態。
	StateStarting
	// StateRunning はディスカバリーに登録され、リクエストを受け付けている状態。
	StateRunning
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}
