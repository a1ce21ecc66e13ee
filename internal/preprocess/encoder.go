package preprocess

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/cartridge/otreward/internal/types"
	"github.com/cartridge/otreward/internal/varsync"
)

// ErrBadParams is returned when encoder parameters do not fit the input.
var ErrBadParams = errors.New("encoder parameters do not fit observation")

// EncoderFn embeds obs with externally supplied parameters.
type EncoderFn func(params varsync.Snapshot, obs []float64) ([]float64, error)

// ParamsProvider hands out the current parameter snapshot.
// *varsync.Client implements it.
type ParamsProvider interface {
	Params() (varsync.Snapshot, error)
}

// Encoder applies a parametric embedding whose parameters are refreshed by a
// variable client. It has no local Update.
type Encoder struct {
	spec   types.ObservationSpec
	fn     EncoderFn
	params ParamsProvider
}

// NewEncoder creates an encoder preprocessor.
func NewEncoder(spec types.ObservationSpec, fn EncoderFn, params ParamsProvider) (*Encoder, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("encoder function is required")
	}
	if params == nil {
		return nil, fmt.Errorf("parameter provider is required")
	}
	return &Encoder{spec: spec, fn: fn, params: params}, nil
}

// Spec implements Preprocessor.
func (e *Encoder) Spec() types.ObservationSpec { return e.spec }

// Transform implements Preprocessor. It returns varsync.ErrNotReady while no
// parameters have been fetched.
func (e *Encoder) Transform(obs []float64) ([]float64, error) {
	if err := e.spec.Check(obs); err != nil {
		return nil, err
	}
	params, err := e.params.Params()
	if err != nil {
		return nil, err
	}
	return e.fn(params, obs)
}

// LinearEncoder returns an EncoderFn computing W·x + b, reading W (row
// major, rows = embedding size) from prefix+"/w" and b from prefix+"/b".
func LinearEncoder(prefix string) EncoderFn {
	weightsName, biasName := LinearEncoderNames(prefix)
	return func(params varsync.Snapshot, obs []float64) ([]float64, error) {
		w, ok := params.Get(weightsName)
		if !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrBadParams, weightsName)
		}
		in := len(obs)
		if in == 0 || len(w) == 0 || len(w)%in != 0 {
			return nil, fmt.Errorf("%w: %d weights for %d inputs", ErrBadParams, len(w), in)
		}
		rows := len(w) / in

		out := make([]float64, rows)
		y := mat.NewVecDense(rows, out)
		y.MulVec(mat.NewDense(rows, in, w), mat.NewVecDense(in, obs))

		if b, ok := params.Get(biasName); ok {
			if len(b) != rows {
				return nil, fmt.Errorf("%w: bias has %d entries, want %d", ErrBadParams, len(b), rows)
			}
			y.AddVec(y, mat.NewVecDense(rows, b))
		}
		return out, nil
	}
}

// LinearEncoderNames returns the variable names read by LinearEncoder.
func LinearEncoderNames(prefix string) (weights, bias string) {
	return prefix + "/w", prefix + "/b"
}
