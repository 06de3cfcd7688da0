package checkpoints

import (
	"fmt"
	"math"
	"os"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// ONNX wire format constants for the subset of onnx.proto this package
// emits. The messages are built directly with protowire rather than
// generated bindings: a weights-only export touches so little of the ONNX
// schema that committing codegen for it is not worth the maintenance.
const (
	// ModelProto fields
	onnxModelIRVersion    = 1
	onnxModelProducerName = 2
	onnxModelProducerVer  = 3
	onnxModelVersion      = 5
	onnxModelGraph        = 7
	onnxModelOpsetImport  = 8
	// GraphProto fields
	onnxGraphName        = 2
	onnxGraphInitializer = 5
	onnxGraphDocString   = 10
	// TensorProto fields
	onnxTensorDims      = 1
	onnxTensorDataType  = 2
	onnxTensorFloatData = 4
	onnxTensorName      = 8
	// OperatorSetIdProto fields
	onnxOpsetVersion = 2

	onnxDataTypeFloat = 1
	onnxIRVersion     = 7
	onnxOpsetNumber   = 13
)

// ExportONNX writes the checkpoint's weight tensors as an ONNX ModelProto.
// The graph carries initializers only: enough for external tooling to read
// the fine-tuned parameters without this package shipping a full graph
// exporter.
func ExportONNX(checkpoint *Checkpoint, path string) error {
	var graph []byte
	graph = protowire.AppendTag(graph, onnxGraphName, protowire.BytesType)
	graph = protowire.AppendString(graph, checkpoint.Metadata.Experiment)
	graph = protowire.AppendTag(graph, onnxGraphDocString, protowire.BytesType)
	graph = protowire.AppendString(graph, "go-finetune weights-only export")

	for _, w := range checkpoint.Weights {
		tensorMsg, err := encodeTensorProto(w)
		if err != nil {
			return fmt.Errorf("failed to encode tensor %s: %v", w.Name, err)
		}
		graph = protowire.AppendTag(graph, onnxGraphInitializer, protowire.BytesType)
		graph = protowire.AppendBytes(graph, tensorMsg)
	}

	var opset []byte
	opset = protowire.AppendTag(opset, onnxOpsetVersion, protowire.VarintType)
	opset = protowire.AppendVarint(opset, onnxOpsetNumber)

	var model []byte
	model = protowire.AppendTag(model, onnxModelIRVersion, protowire.VarintType)
	model = protowire.AppendVarint(model, onnxIRVersion)
	model = protowire.AppendTag(model, onnxModelProducerName, protowire.BytesType)
	model = protowire.AppendString(model, "go-finetune")
	model = protowire.AppendTag(model, onnxModelProducerVer, protowire.BytesType)
	model = protowire.AppendString(model, "1.0.0")
	model = protowire.AppendTag(model, onnxModelVersion, protowire.VarintType)
	model = protowire.AppendVarint(model, 1)
	model = protowire.AppendTag(model, onnxModelGraph, protowire.BytesType)
	model = protowire.AppendBytes(model, graph)
	model = protowire.AppendTag(model, onnxModelOpsetImport, protowire.BytesType)
	model = protowire.AppendBytes(model, opset)

	if err := os.WriteFile(path, model, 0644); err != nil {
		return errors.Wrap(err, "failed to write ONNX file")
	}

	return nil
}

func encodeTensorProto(w WeightTensor) ([]byte, error) {
	if len(w.Data) == 0 {
		return nil, fmt.Errorf("tensor has no data")
	}

	var msg []byte
	for _, dim := range w.Shape {
		msg = protowire.AppendTag(msg, onnxTensorDims, protowire.VarintType)
		msg = protowire.AppendVarint(msg, uint64(dim))
	}
	msg = protowire.AppendTag(msg, onnxTensorDataType, protowire.VarintType)
	msg = protowire.AppendVarint(msg, onnxDataTypeFloat)

	// float_data is packed: a single length-delimited field of fixed32s.
	packed := make([]byte, 0, 4*len(w.Data))
	for _, v := range w.Data {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	msg = protowire.AppendTag(msg, onnxTensorFloatData, protowire.BytesType)
	msg = protowire.AppendBytes(msg, packed)

	msg = protowire.AppendTag(msg, onnxTensorName, protowire.BytesType)
	msg = protowire.AppendString(msg, w.Name)

	return msg, nil
}

// ImportONNXWeights reads back the initializer tensors of a weights-only
// ONNX export.
func ImportONNXWeights(path string) ([]WeightTensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read ONNX file")
	}

	var weights []WeightTensor
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("malformed ONNX model: %v", protowire.ParseError(n))
		}
		data = data[n:]

		if num == onnxModelGraph && typ == protowire.BytesType {
			graph, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("malformed ONNX graph: %v", protowire.ParseError(n))
			}
			data = data[n:]

			weights, err = parseGraphInitializers(graph)
			if err != nil {
				return nil, err
			}
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, fmt.Errorf("malformed ONNX field %d: %v", num, protowire.ParseError(n))
		}
		data = data[n:]
	}

	if weights == nil {
		return nil, fmt.Errorf("ONNX model contains no graph")
	}

	return weights, nil
}

func parseGraphInitializers(graph []byte) ([]WeightTensor, error) {
	var weights []WeightTensor
	for len(graph) > 0 {
		num, typ, n := protowire.ConsumeTag(graph)
		if n < 0 {
			return nil, fmt.Errorf("malformed graph tag: %v", protowire.ParseError(n))
		}
		graph = graph[n:]

		if num == onnxGraphInitializer && typ == protowire.BytesType {
			msg, n := protowire.ConsumeBytes(graph)
			if n < 0 {
				return nil, fmt.Errorf("malformed initializer: %v", protowire.ParseError(n))
			}
			graph = graph[n:]

			w, err := parseTensorProto(msg)
			if err != nil {
				return nil, err
			}
			weights = append(weights, w)
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, graph)
		if n < 0 {
			return nil, fmt.Errorf("malformed graph field %d: %v", num, protowire.ParseError(n))
		}
		graph = graph[n:]
	}
	return weights, nil
}

func parseTensorProto(msg []byte) (WeightTensor, error) {
	var w WeightTensor
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return w, fmt.Errorf("malformed tensor tag: %v", protowire.ParseError(n))
		}
		msg = msg[n:]

		switch {
		case num == onnxTensorDims && typ == protowire.VarintType:
			dim, n := protowire.ConsumeVarint(msg)
			if n < 0 {
				return w, fmt.Errorf("malformed tensor dim: %v", protowire.ParseError(n))
			}
			msg = msg[n:]
			w.Shape = append(w.Shape, int(dim))

		case num == onnxTensorName && typ == protowire.BytesType:
			name, n := protowire.ConsumeString(msg)
			if n < 0 {
				return w, fmt.Errorf("malformed tensor name: %v", protowire.ParseError(n))
			}
			msg = msg[n:]
			w.Name = name

		case num == onnxTensorFloatData && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(msg)
			if n < 0 {
				return w, fmt.Errorf("malformed tensor data: %v", protowire.ParseError(n))
			}
			msg = msg[n:]
			for len(packed) > 0 {
				bits, n := protowire.ConsumeFixed32(packed)
				if n < 0 {
					return w, fmt.Errorf("malformed packed float: %v", protowire.ParseError(n))
				}
				packed = packed[n:]
				w.Data = append(w.Data, math.Float32frombits(uint32(bits)))
			}

		default:
			n = protowire.ConsumeFieldValue(num, typ, msg)
			if n < 0 {
				return w, fmt.Errorf("malformed tensor field %d: %v", num, protowire.ParseError(n))
			}
			msg = msg[n:]
		}
	}
	return w, nil
}
