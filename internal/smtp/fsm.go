package smtp

// state 是单个连接的会话状态。
type state int

const (
	stateInit state = iota
	stateGreeted
	stateMailSet
	stateRcptSet
	stateData
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateInit:
		return "INIT"
	case stateGreeted:
		return "GREETED"
	case stateMailSet:
		return "MAIL_SET"
	case stateRcptSet:
		return "RCPT_SET"
	case stateData:
		return "DATA"
	case stateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// knownVerbs 是监听器识别的全部命令，不在其中的返回 500。
var knownVerbs = map[string]bool{
	"EHLO": true,
	"HELO": true,
	"MAIL": true,
	"RCPT": true,
	"DATA": true,
	"RSET": true,
	"NOOP": true,
	"QUIT": true,
}

// transitions 列出每个状态下允许的命令及其成功后的目标状态。
// 已识别但未列出的命令返回 503，状态不变。
var transitions = map[state]map[string]state{
	stateInit: {
		"EHLO": stateGreeted,
		"HELO": stateGreeted,
		"QUIT": stateClosed,
	},
	stateGreeted: {
		"EHLO": stateGreeted,
		"HELO": stateGreeted,
		"MAIL": stateMailSet,
		"RSET": stateGreeted,
		"NOOP": stateGreeted,
		"QUIT": stateClosed,
	},
	stateMailSet: {
		"EHLO": stateGreeted,
		"HELO": stateGreeted,
		"RCPT": stateRcptSet,
		"RSET": stateGreeted,
		"NOOP": stateMailSet,
		"QUIT": stateClosed,
	},
	stateRcptSet: {
		"EHLO": stateGreeted,
		"HELO": stateGreeted,
		"RCPT": stateRcptSet,
		"DATA": stateData,
		"RSET": stateGreeted,
		"NOOP": stateRcptSet,
		"QUIT": stateClosed,
	},
}

// next 查表返回命令在当前状态下的目标状态。
func next(current state, verb string) (state, bool) {
	to, ok := transitions[current][verb]
	return to, ok
}
