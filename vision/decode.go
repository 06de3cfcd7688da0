package vision

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/tsawler/go-finetune/tensor"
)

// Get decodes, resizes, and normalizes the image at index, returning a CHW
// Float32 tensor in [0, 1] and a single-element Int32 label tensor. This is
// the training.Dataset contract.
func (d *ImageFolderDataset) Get(index int) (*tensor.Tensor, *tensor.Tensor, error) {
	path, label, err := d.ImagePath(index)
	if err != nil {
		return nil, nil, err
	}

	data, err := decodeImage(path, d.imageSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	sample, err := tensor.NewTensor([]int{3, d.imageSize, d.imageSize}, tensor.Float32, data)
	if err != nil {
		return nil, nil, err
	}
	labelTensor, err := tensor.NewTensor([]int{1}, tensor.Int32, []int32{int32(label)})
	if err != nil {
		return nil, nil, err
	}

	return sample, labelTensor, nil
}

// decodeImage reads an image file into CHW RGB float32 data scaled to [0, 1].
func decodeImage(path string, size int) ([]float32, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		return nil, fmt.Errorf("could not read image")
	}
	defer mat.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mat, &resized, image.Pt(size, size), 0, 0, gocv.InterpolationLinear)

	converted := gocv.NewMat()
	defer converted.Close()
	resized.ConvertTo(&converted, gocv.MatTypeCV32FC3)

	// OpenCV decodes to BGR; split and reorder to RGB planes.
	channels := gocv.Split(converted)
	defer func() {
		for i := range channels {
			channels[i].Close()
		}
	}()
	if len(channels) != 3 {
		return nil, fmt.Errorf("expected 3 channels, got %d", len(channels))
	}

	plane := size * size
	data := make([]float32, 3*plane)
	order := []int{2, 1, 0} // BGR -> RGB

	for c, src := range order {
		vals, err := channels[src].DataPtrFloat32()
		if err != nil {
			return nil, fmt.Errorf("failed to read channel %d: %w", src, err)
		}
		if len(vals) != plane {
			return nil, fmt.Errorf("channel %d has %d values, expected %d", src, len(vals), plane)
		}
		dst := data[c*plane : (c+1)*plane]
		for i, v := range vals {
			dst[i] = v / 255.0
		}
	}

	return data, nil
}
