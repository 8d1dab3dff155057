package wire

import (
	"encoding/json"
	"fmt"

	"discord-rpc/internal/domain"
)

// EncodeCommand marshals an outgoing envelope.
func EncodeCommand(cmd domain.OutgoingCommand) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, domain.WrapOp("wire.EncodeCommand", err)
	}
	return data, nil
}

// DecodeCommand validates raw against the incoming envelope schema and
// decodes it. Any failure is reported as ErrProtocol.
func DecodeCommand(raw []byte) (domain.IncomingCommand, error) {
	var msg domain.IncomingCommand
	if err := IncomingSchema.ValidateJSON(raw); err != nil {
		return msg, domain.NewDomainError("wire.DecodeCommand", domain.ErrProtocol, err.Error())
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, domain.NewDomainError("wire.DecodeCommand", domain.ErrProtocol, err.Error())
	}
	if isNull(msg.Data) {
		msg.Data = nil
	}
	if isNull(msg.Args) {
		msg.Args = nil
	}
	return msg, nil
}

// DecodeData validates data against schema and decodes it into T.
func DecodeData[T any](schema *Schema, data json.RawMessage) (T, error) {
	var out T
	if len(data) == 0 {
		return out, domain.NewDomainError("wire.DecodeData", domain.ErrProtocol, "missing data")
	}
	if err := schema.ValidateJSON(data); err != nil {
		return out, domain.NewDomainError("wire.DecodeData", domain.ErrProtocol, err.Error())
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, domain.NewDomainError("wire.DecodeData", domain.ErrProtocol,
			fmt.Sprintf("decode %s: %v", schema.name, err))
	}
	return out, nil
}

// DecodeReady decodes the READY dispatch payload.
func DecodeReady(msg domain.IncomingCommand) (domain.ReadyData, error) {
	return DecodeData[domain.ReadyData](ReadySchema, msg.Data)
}

// DecodeError converts an ERROR payload into an RPCError. A payload that
// fails validation still yields an RPCError with the unknown code.
func DecodeError(msg domain.IncomingCommand) *domain.RPCError {
	data, err := DecodeData[domain.ErrorData](ErrorSchema, msg.Data)
	if err != nil {
		return &domain.RPCError{Code: domain.RPCUnknownError, Message: err.Error()}
	}
	return &domain.RPCError{Code: domain.RPCErrorCode(data.Code), Message: data.Message}
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 4 && string(raw) == "null"
}
