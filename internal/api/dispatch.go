package api

import (
	"github.com/labteral/stopover/internal/broker"
	"github.com/labteral/stopover/internal/codec"
)

type method func(b *broker.Broker, params Params) (map[string]any, error)

var dispatchTable = map[string]method{
	"knock":          knock,
	"put_message":    putMessage,
	"get_message":    getMessage,
	"get_partitions": getPartitions,
	"commit_message": commitMessage,
	"set_offset":     setOffset,
}

func knock(b *broker.Broker, params Params) (map[string]any, error) {
	receiverGroup, err := params.string("receiver_group")
	if err != nil {
		return nil, err
	}
	receiver, err := params.string("receiver")
	if err != nil {
		return nil, err
	}

	result := b.Knock(receiverGroup, receiver)
	return map[string]any{
		"receiver_group": result.ReceiverGroup,
		"receiver":       result.Receiver,
		"status":         codec.StatusOK,
	}, nil
}

func putMessage(b *broker.Broker, params Params) (map[string]any, error) {
	stream, err := params.string("stream")
	if err != nil {
		return nil, err
	}
	value, err := params.bytes("value")
	if err != nil {
		return nil, err
	}
	key, err := params.optionalString("key")
	if err != nil {
		return nil, err
	}
	partition, err := params.optionalInt("partition")
	if err != nil {
		return nil, err
	}

	result, err := b.PutMessage(stream, key, value, partition)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"stream":    result.Stream,
		"partition": result.Partition,
		"index":     result.Index,
		"timestamp": result.Timestamp,
		"status":    codec.StatusOK,
	}, nil
}

func getMessage(b *broker.Broker, params Params) (map[string]any, error) {
	stream, err := params.string("stream")
	if err != nil {
		return nil, err
	}
	receiverGroup, err := params.string("receiver_group")
	if err != nil {
		return nil, err
	}
	receiver, err := params.string("receiver")
	if err != nil {
		return nil, err
	}
	index, err := params.optionalUint64("index")
	if err != nil {
		return nil, err
	}

	result, err := b.GetMessage(stream, receiverGroup, receiver, index)
	if err != nil {
		return nil, err
	}

	resp := map[string]any{
		"stream":              result.Stream,
		"receiver_group":      result.ReceiverGroup,
		"receiver":            result.Receiver,
		"assigned_partitions": result.AssignedPartitions,
		"status":              result.Status,
	}
	if result.Partition != nil {
		resp["partition"] = *result.Partition
		resp["index"] = *result.Index
		resp["value"] = result.Value
		resp["timestamp"] = *result.Timestamp
	}
	return resp, nil
}

func getPartitions(b *broker.Broker, params Params) (map[string]any, error) {
	stream, err := params.string("stream")
	if err != nil {
		return nil, err
	}
	receiverGroup, err := params.string("receiver_group")
	if err != nil {
		return nil, err
	}
	receiver, err := params.string("receiver")
	if err != nil {
		return nil, err
	}

	result := b.GetPartitions(stream, receiverGroup, receiver)
	return map[string]any{
		"stream":              result.Stream,
		"receiver_group":      result.ReceiverGroup,
		"receiver":            result.Receiver,
		"assigned_partitions": result.AssignedPartitions,
	}, nil
}

func commitMessage(b *broker.Broker, params Params) (map[string]any, error) {
	stream, err := params.string("stream")
	if err != nil {
		return nil, err
	}
	partition, err := params.int("partition")
	if err != nil {
		return nil, err
	}
	index, err := params.uint64("index")
	if err != nil {
		return nil, err
	}
	receiverGroup, err := params.string("receiver_group")
	if err != nil {
		return nil, err
	}

	if err := b.CommitMessage(stream, partition, index, receiverGroup); err != nil {
		return nil, err
	}

	return map[string]any{
		"stream":         stream,
		"receiver_group": receiverGroup,
		"status":         codec.StatusOK,
	}, nil
}

func setOffset(b *broker.Broker, params Params) (map[string]any, error) {
	stream, err := params.string("stream")
	if err != nil {
		return nil, err
	}
	partition, err := params.int("partition")
	if err != nil {
		return nil, err
	}
	index, err := params.int64("index")
	if err != nil {
		return nil, err
	}
	receiverGroup, err := params.string("receiver_group")
	if err != nil {
		return nil, err
	}

	if err := b.SetOffset(stream, partition, index, receiverGroup); err != nil {
		return nil, err
	}

	return map[string]any{
		"stream":         stream,
		"partition":      partition,
		"index":          index,
		"receiver_group": receiverGroup,
		"status":         codec.StatusOK,
	}, nil
}
