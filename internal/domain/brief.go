package domain

import (
	"bytes"
	"encoding/json"
)

type BriefStatus string

const (
	BriefGathering BriefStatus = "gathering"
	BriefReady     BriefStatus = "ready"
)

// Brief is the project brief accumulated over a scoping session.
// Nil fields are unknown.
type Brief struct {
	ProjectName      *string     `json:"project_name"`
	ProjectType      *string     `json:"project_type"`
	Description      *string     `json:"description"`
	Problem          *string     `json:"problem"`
	TargetUsers      *string     `json:"target_users"`
	CoreFeatures     []string    `json:"core_features"`
	NiceToHave       []string    `json:"nice_to_have"`
	DesignNotes      *string     `json:"design_notes"`
	TechRequirements *string     `json:"tech_requirements"`
	Integrations     []string    `json:"integrations"`
	Timeline         *string     `json:"timeline"`
	ExistingAssets   *string     `json:"existing_assets"`
	Complexity       *string     `json:"complexity"`
	Status           BriefStatus `json:"status"`
}

// BriefUpdate is a partial brief as emitted by the model. Only keys present
// in the map are applied; a JSON null clears the field.
type BriefUpdate map[string]json.RawMessage

// Ready reports whether the brief has been marked complete.
func (b Brief) Ready() bool {
	return b.Status == BriefReady
}

// Merge applies u on top of b and returns the result. Values of the wrong
// JSON type are ignored. Status only accepts known values and never moves
// from ready back to gathering.
func (b Brief) Merge(u BriefUpdate) Brief {
	out := b
	for key, raw := range u {
		switch key {
		case "project_name":
			mergeString(raw, &out.ProjectName)
		case "project_type":
			mergeString(raw, &out.ProjectType)
		case "description":
			mergeString(raw, &out.Description)
		case "problem":
			mergeString(raw, &out.Problem)
		case "target_users":
			mergeString(raw, &out.TargetUsers)
		case "core_features":
			mergeList(raw, &out.CoreFeatures)
		case "nice_to_have":
			mergeList(raw, &out.NiceToHave)
		case "design_notes":
			mergeString(raw, &out.DesignNotes)
		case "tech_requirements":
			mergeString(raw, &out.TechRequirements)
		case "integrations":
			mergeList(raw, &out.Integrations)
		case "timeline":
			mergeString(raw, &out.Timeline)
		case "existing_assets":
			mergeString(raw, &out.ExistingAssets)
		case "complexity":
			mergeString(raw, &out.Complexity)
		case "status":
			var s BriefStatus
			if json.Unmarshal(raw, &s) != nil {
				continue
			}
			if s == BriefReady || (s == BriefGathering && out.Status != BriefReady) {
				out.Status = s
			}
		}
	}
	if out.Status == "" {
		out.Status = BriefGathering
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func mergeString(raw json.RawMessage, dst **string) {
	if isNull(raw) {
		*dst = nil
		return
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return
	}
	*dst = &s
}

func mergeList(raw json.RawMessage, dst *[]string) {
	if isNull(raw) {
		*dst = nil
		return
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return
	}
	*dst = list
}
