package domain

import "fmt"

// Opcode tags every frame on the local-socket transport.
type Opcode uint32

const (
	OpHandshake Opcode = 0
	OpFrame     Opcode = 1
	OpClose     Opcode = 2
	OpPing      Opcode = 3
	OpPong      Opcode = 4
)

func (o Opcode) String() string {
	switch o {
	case OpHandshake:
		return "HANDSHAKE"
	case OpFrame:
		return "FRAME"
	case OpClose:
		return "CLOSE"
	case OpPing:
		return "PING"
	case OpPong:
		return "PONG"
	default:
		return fmt.Sprintf("OPCODE(%d)", uint32(o))
	}
}

// Valid reports whether o is one of the known opcodes.
func (o Opcode) Valid() bool {
	return o <= OpPong
}
