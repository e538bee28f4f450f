// Package vision adapts the Cloud Vision API to simpleimage.VisionAnnotator.
package vision

import (
	"context"
	"errors"
	"fmt"

	visionapi "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

type annotateFunc func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error)

// CloudAnnotator calls the Cloud Vision images:annotate API, one feature per call
type CloudAnnotator struct {
	client   *visionapi.ImageAnnotatorClient
	annotate annotateFunc
}

// NewCloudAnnotator creates an annotator with a new Vision client
func NewCloudAnnotator(ctx context.Context, opts ...option.ClientOption) (*CloudAnnotator, error) {
	client, err := visionapi.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create vision client: %w", err)
	}
	return &CloudAnnotator{
		client: client,
		annotate: func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
			return client.BatchAnnotateImages(ctx, req)
		},
	}, nil
}

// Close releases the Vision client
func (a *CloudAnnotator) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

// DetectLabels runs LABEL_DETECTION
func (a *CloudAnnotator) DetectLabels(ctx context.Context, img simpleimage.ImageSource) ([]simpleimage.Label, error) {
	resp, err := a.run(ctx, img, visionpb.Feature_LABEL_DETECTION)
	if err != nil {
		return nil, err
	}
	labels := make([]simpleimage.Label, 0, len(resp.GetLabelAnnotations()))
	for _, l := range resp.GetLabelAnnotations() {
		labels = append(labels, simpleimage.Label{
			Description: l.GetDescription(),
			Score:       float64(l.GetScore()),
			Topicality:  float64(l.GetTopicality()),
		})
	}
	return labels, nil
}

// DetectText runs TEXT_DETECTION
func (a *CloudAnnotator) DetectText(ctx context.Context, img simpleimage.ImageSource) ([]simpleimage.TextAnnotation, error) {
	resp, err := a.run(ctx, img, visionpb.Feature_TEXT_DETECTION)
	if err != nil {
		return nil, err
	}
	annotations := make([]simpleimage.TextAnnotation, 0, len(resp.GetTextAnnotations()))
	for _, t := range resp.GetTextAnnotations() {
		vertices := make([]simpleimage.Vertex, 0, len(t.GetBoundingPoly().GetVertices()))
		for _, v := range t.GetBoundingPoly().GetVertices() {
			vertices = append(vertices, simpleimage.Vertex{X: v.GetX(), Y: v.GetY()})
		}
		annotations = append(annotations, simpleimage.TextAnnotation{
			Description: t.GetDescription(),
			Vertices:    vertices,
		})
	}
	return annotations, nil
}

func (a *CloudAnnotator) run(ctx context.Context, img simpleimage.ImageSource, feature visionpb.Feature_Type) (*visionpb.AnnotateImageResponse, error) {
	image, err := toImage(img)
	if err != nil {
		return nil, err
	}

	resp, err := a.annotate(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:    image,
			Features: []*visionpb.Feature{{Type: feature}},
		}},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.GetResponses()) == 0 {
		return nil, errors.New("vision returned no response")
	}

	r := resp.GetResponses()[0]
	if msg := r.GetError().GetMessage(); msg != "" {
		return nil, errors.New(msg)
	}
	return r, nil
}

func toImage(img simpleimage.ImageSource) (*visionpb.Image, error) {
	if len(img.Content) > 0 {
		return &visionpb.Image{Content: img.Content}, nil
	}
	if img.URI == "" {
		return nil, errors.New("image has neither content nor uri")
	}
	return &visionpb.Image{Source: &visionpb.ImageSource{ImageUri: img.URI}}, nil
}
