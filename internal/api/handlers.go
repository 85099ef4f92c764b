package api

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-irt/internal/models"
	"github.com/miradorstack/mirador-irt/internal/results"
	"github.com/miradorstack/mirador-irt/internal/sdt"
)

// ErrInvalidRequest wraps every request decoding failure.
var ErrInvalidRequest = errors.New("invalid request")

// FromStructRequest maps an Estimate request document into a domain request.
//
//	{
//	  "participants": ["p1", ...],          // optional declared order
//	  "items": ["i1", ...],                 // optional declared order
//	  "responses": [{"participant": "p1", "item": "i1", "value": 1}, ...],
//	  "config": {"model": "4PL", "max_iterations": 50, ...}
//	}
func FromStructRequest(req *structpb.Struct) (models.EstimateRequest, error) {
	if req == nil {
		return models.EstimateRequest{}, invalid("request is nil")
	}
	fields := req.GetFields()

	var (
		out models.EstimateRequest
		err error
	)
	if out.Participants, err = stringList(fields["participants"], "participants"); err != nil {
		return models.EstimateRequest{}, err
	}
	if out.Items, err = stringList(fields["items"], "items"); err != nil {
		return models.EstimateRequest{}, err
	}

	raw, ok := fields["responses"]
	if !ok || raw.GetListValue() == nil {
		return models.EstimateRequest{}, invalid("responses must be a list")
	}
	for idx, entry := range raw.GetListValue().GetValues() {
		resp, err := fromStructResponse(entry, idx)
		if err != nil {
			return models.EstimateRequest{}, err
		}
		out.Responses = append(out.Responses, resp)
	}

	if cfg, ok := fields["config"]; ok && !isNull(cfg) {
		if cfg.GetStructValue() == nil {
			return models.EstimateRequest{}, invalid("config must be an object")
		}
		if out.Overrides, err = fromStructOverrides(cfg.GetStructValue()); err != nil {
			return models.EstimateRequest{}, err
		}
	}
	return out, nil
}

func fromStructResponse(v *structpb.Value, idx int) (models.Response, error) {
	entry := v.GetStructValue()
	if entry == nil {
		return models.Response{}, invalid("responses[%d] must be an object", idx)
	}
	fields := entry.GetFields()

	participant, ok := fields["participant"]
	if !ok || participant.GetKind() == nil {
		return models.Response{}, invalid("responses[%d].participant is required", idx)
	}
	item, ok := fields["item"]
	if !ok || item.GetKind() == nil {
		return models.Response{}, invalid("responses[%d].item is required", idx)
	}
	if _, isString := participant.GetKind().(*structpb.Value_StringValue); !isString {
		return models.Response{}, invalid("responses[%d].participant must be a string", idx)
	}
	if _, isString := item.GetKind().(*structpb.Value_StringValue); !isString {
		return models.Response{}, invalid("responses[%d].item must be a string", idx)
	}

	var value float64
	switch kind := fields["value"].GetKind().(type) {
	case *structpb.Value_NumberValue:
		value = kind.NumberValue
	case *structpb.Value_BoolValue:
		if kind.BoolValue {
			value = 1
		}
	default:
		return models.Response{}, invalid("responses[%d].value must be a number or boolean", idx)
	}

	return models.Response{
		ParticipantID: participant.GetStringValue(),
		ItemID:        item.GetStringValue(),
		Value:         value,
	}, nil
}

func fromStructOverrides(cfg *structpb.Struct) (models.EstimationOverrides, error) {
	var out models.EstimationOverrides
	for key, v := range cfg.GetFields() {
		if isNull(v) {
			continue
		}
		field := "config." + key
		switch key {
		case "model":
			s, err := str(v, field)
			if err != nil {
				return out, err
			}
			out.Model = s
		case "initial_guess":
			s, err := str(v, field)
			if err != nil {
				return out, err
			}
			out.InitialGuess = s
		case "delta_aggregate":
			s, err := str(v, field)
			if err != nil {
				return out, err
			}
			out.DeltaAggregate = s
		case "max_iterations":
			n, err := integer(v, field)
			if err != nil {
				return out, err
			}
			iterations := int(n)
			out.MaxIterations = &iterations
		case "parallelism":
			n, err := integer(v, field)
			if err != nil {
				return out, err
			}
			workers := int(n)
			out.Parallelism = &workers
		case "seed":
			n, err := integer(v, field)
			if err != nil {
				return out, err
			}
			out.Seed = &n
		case "tolerance":
			kind, ok := v.GetKind().(*structpb.Value_NumberValue)
			if !ok {
				return out, invalid("%s must be a number", field)
			}
			tol := kind.NumberValue
			out.Tolerance = &tol
		case "verbose":
			kind, ok := v.GetKind().(*structpb.Value_BoolValue)
			if !ok {
				return out, invalid("%s must be a boolean", field)
			}
			verbose := kind.BoolValue
			out.Verbose = &verbose
		default:
			return out, invalid("unknown config key %q", key)
		}
	}
	return out, nil
}

// ToStructResponse converts estimation results into the response document.
// NaN and infinite values are encoded as null.
func ToStructResponse(res *results.Results) (*structpb.Struct, error) {
	if res == nil {
		return nil, fmt.Errorf("results are nil")
	}

	participantIDs := res.ParticipantIDs()
	abilities := res.Abilities()
	abilityErrors := res.AbilityErrors()
	statuses := res.ParticipantStatuses()
	participants := make([]any, len(participantIDs))
	for p, id := range participantIDs {
		participants[p] = map[string]any{
			"id":     id,
			"theta":  number(abilities[p]),
			"se":     number(abilityErrors[p]),
			"status": string(statuses[p]),
		}
	}

	itemIDs := res.ItemIDs()
	items := make([]any, len(itemIDs))
	for i, id := range itemIDs {
		est, _ := res.Item(id)
		items[i] = map[string]any{
			"id":     id,
			"params": paramMap(res, est.Params),
			"errors": paramMap(res, est.Errors),
			"status": string(est.Status),
			"sdt":    sdtMap(est.SDT),
		}
	}

	history := res.ConvergenceHistory()
	deltas := make([]any, len(history))
	for k, d := range history {
		deltas[k] = number(d)
	}

	summary := res.Summary()
	doc := map[string]any{
		"run_id":              res.RunID(),
		"model":               string(res.Model()),
		"status":              string(res.Status()),
		"converged":           res.Converged(),
		"iterations":          res.Iterations(),
		"participants":        participants,
		"items":               items,
		"convergence_history": deltas,
		"summary": map[string]any{
			"participants":      summary.Participants,
			"items":             summary.Items,
			"held_participants": summary.HeldParticipants,
			"held_items":        summary.HeldItems,
			"undefined_sdt":     summary.UndefinedSDT,
			"insufficient_data": summary.InsufficientData,
			"fit_failures":      summary.FitFailures,
		},
	}
	return structpb.NewStruct(doc)
}

type paramSet interface {
	Vector() []float64
}

// paramMap keys each value by parameter name; a missing set yields nulls.
func paramMap(res *results.Results, params paramSet) map[string]any {
	names := res.Model().ParamNames()
	out := make(map[string]any, len(names))
	var vector []float64
	if params != nil {
		vector = params.Vector()
	}
	for k, name := range names {
		if k < len(vector) {
			out[name] = number(vector[k])
		} else {
			out[name] = nil
		}
	}
	return out
}

func sdtMap(r sdt.Result) map[string]any {
	out := map[string]any{
		"auc":       number(r.AUC),
		"threshold": number(r.OptimalThreshold),
		"tpr":       number(r.TPR),
		"tnr":       number(r.TNR),
		"positives": r.Positives,
		"negatives": r.Negatives,
		"defined":   r.Defined,
	}
	if r.Err != nil {
		out["error"] = r.Err.Error()
	}
	return out
}

func number(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func stringList(v *structpb.Value, field string) ([]string, error) {
	if v == nil || isNull(v) {
		return nil, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, invalid("%s must be a list of strings", field)
	}
	out := make([]string, 0, len(list.GetValues()))
	for idx, entry := range list.GetValues() {
		s, err := str(entry, fmt.Sprintf("%s[%d]", field, idx))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func str(v *structpb.Value, field string) (string, error) {
	kind, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", invalid("%s must be a string", field)
	}
	return kind.StringValue, nil
}

// integer accepts whole numbers within the exactly representable float range.
func integer(v *structpb.Value, field string) (int64, error) {
	kind, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, invalid("%s must be an integer", field)
	}
	n := kind.NumberValue
	if math.Trunc(n) != n || math.Abs(n) > 1<<53 {
		return 0, invalid("%s must be an integer", field)
	}
	return int64(n), nil
}

func isNull(v *structpb.Value) bool {
	_, null := v.GetKind().(*structpb.Value_NullValue)
	return null
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
