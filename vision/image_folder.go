package vision

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
)

// ImageFolderDataset represents a classification dataset loaded from a
// directory structure where each subdirectory is one class. Samples decode
// lazily in Get, so construction only scans the tree.
type ImageFolderDataset struct {
	imagePaths []string
	labels     []int
	classNames []string
	classToIdx map[string]int
	imageSize  int
}

// NewImageFolderDataset scans root for class subdirectories and their
// images. Images are decoded and resized to imageSize x imageSize when
// fetched. An empty extensions list defaults to common image formats.
func NewImageFolderDataset(root string, imageSize int, extensions []string) (*ImageFolderDataset, error) {
	if imageSize <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %d", imageSize)
	}
	if len(extensions) == 0 {
		extensions = []string{".jpg", ".jpeg", ".png", ".bmp"}
	}

	dataset := &ImageFolderDataset{
		classToIdx: make(map[string]int),
		imageSize:  imageSize,
	}

	classes, err := filepath.Glob(filepath.Join(root, "*"))
	if err != nil {
		return nil, fmt.Errorf("failed to list classes: %w", err)
	}

	classIdx := 0
	for _, classPath := range classes {
		info, err := os.Stat(classPath)
		if err != nil || !info.IsDir() {
			continue
		}

		className := filepath.Base(classPath)
		dataset.classNames = append(dataset.classNames, className)
		dataset.classToIdx[className] = classIdx

		for _, ext := range extensions {
			pattern := filepath.Join(classPath, "*"+ext)
			files, err := filepath.Glob(pattern)
			if err != nil {
				continue
			}
			for _, file := range files {
				dataset.imagePaths = append(dataset.imagePaths, file)
				dataset.labels = append(dataset.labels, classIdx)
			}
		}

		classIdx++
	}

	if len(dataset.imagePaths) == 0 {
		return nil, fmt.Errorf("no images found in %s", root)
	}

	return dataset, nil
}

// Len returns the number of samples in the dataset.
func (d *ImageFolderDataset) Len() int {
	return len(d.imagePaths)
}

// NumClasses returns the number of classes.
func (d *ImageFolderDataset) NumClasses() int {
	return len(d.classNames)
}

// ClassNames returns the list of class names in label order.
func (d *ImageFolderDataset) ClassNames() []string {
	return d.classNames
}

// ImagePath returns the file path and label at the given index without
// decoding the image.
func (d *ImageFolderDataset) ImagePath(index int) (string, int, error) {
	if index < 0 || index >= len(d.imagePaths) {
		return "", 0, fmt.Errorf("index %d out of range [0, %d)", index, len(d.imagePaths))
	}
	return d.imagePaths[index], d.labels[index], nil
}

// ClassDistribution returns the sample count per class name.
func (d *ImageFolderDataset) ClassDistribution() map[string]int {
	dist := make(map[string]int)
	for _, label := range d.labels {
		dist[d.classNames[label]]++
	}
	return dist
}

// Split partitions the dataset into train and test subsets sharing the
// class mapping.
func (d *ImageFolderDataset) Split(trainRatio float64, shuffle bool) (*ImageFolderDataset, *ImageFolderDataset) {
	n := len(d.imagePaths)
	trainSize := int(float64(n) * trainRatio)

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if shuffle {
		rand.Shuffle(n, func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	subset := func(idx []int) *ImageFolderDataset {
		s := &ImageFolderDataset{
			imagePaths: make([]string, len(idx)),
			labels:     make([]int, len(idx)),
			classNames: d.classNames,
			classToIdx: d.classToIdx,
			imageSize:  d.imageSize,
		}
		for i, j := range idx {
			s.imagePaths[i] = d.imagePaths[j]
			s.labels[i] = d.labels[j]
		}
		return s
	}

	return subset(indices[:trainSize]), subset(indices[trainSize:])
}
