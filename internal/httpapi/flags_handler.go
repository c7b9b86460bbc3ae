package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/TimurManjosov/goflagship/internal/canonlog"
	"github.com/TimurManjosov/goflagship/internal/flags"
	"github.com/TimurManjosov/goflagship/internal/properties"
)

type flagsRequestBody struct {
	Token               string                    `json:"token"`
	APIKey              string                    `json:"api_key"`
	TokenDollar         string                    `json:"$token"`
	DistinctID          string                    `json:"distinct_id"`
	DistinctIDDollar    string                    `json:"$distinct_id"`
	Groups              map[string]any            `json:"groups"`
	PersonProperties    map[string]any            `json:"person_properties"`
	GroupProperties     map[string]map[string]any `json:"group_properties"`
	DisableFlags        bool                      `json:"disable_flags"`
	FlagKeys            []string                  `json:"flag_keys"`
	FlagKeysToEvaluate  []string                  `json:"flag_keys_to_evaluate"`
}

func (b flagsRequestBody) token() string {
	for _, t := range []string{b.Token, b.APIKey, b.TokenDollar} {
		if t != "" {
			return t
		}
	}
	return ""
}

func (b flagsRequestBody) distinctID() string {
	if b.DistinctID != "" {
		return b.DistinctID
	}
	return b.DistinctIDDollar
}

func (b flagsRequestBody) flagKeys() []string {
	if len(b.FlagKeysToEvaluate) > 0 {
		return b.FlagKeysToEvaluate
	}
	return b.FlagKeys
}

func toValueMap(raw map[string]any) map[string]properties.Value {
	out := make(map[string]properties.Value, len(raw))
	for k, v := range raw {
		out[k] = properties.ValueOf(v)
	}
	return out
}

func dbPropsToValueMap(raw map[string]any) map[string]properties.Value {
	if raw == nil {
		return nil
	}
	return toValueMap(raw)
}

// handleFlags implements POST/GET /flags/ per spec §6.
func (s *Server) handleFlags(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	version := parseVersion(r.URL.Query().Get("v"))
	wantConfig := truthy(r.URL.Query().Get("config"))

	var body flagsRequestBody
	if r.Method == http.MethodPost {
		raw, err := io.ReadAll(io.LimitReader(r.Body, int64(s.maxBody())))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		if len(raw) > 0 {
			decoded, err := decodeMaybeCompressed(raw, r.URL.Query().Get("compression"), s.maxBody())
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "malformed request body")
				return
			}
			if err := json.Unmarshal(decoded, &body); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
		}
	} else {
		body.Token = r.URL.Query().Get("token")
		body.DistinctID = r.URL.Query().Get("distinct_id")
	}

	token := body.token()
	if token == "" {
		writeJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	teamID, projectID, err := s.teams.ResolveToken(ctx, token)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	var cfgBlob json.RawMessage
	var configQuotaLimited bool
	if s.remoteConfig != nil {
		cfgBlob, configQuotaLimited = s.remoteConfig.Config(ctx, token)
	}

	resp := map[string]any{
		"errorsWhileComputingFlags": false,
		"evaluatedAt":               time.Now().UnixMilli(),
	}
	if configQuotaLimited {
		resp["quotaLimited"] = []string{"feature_flags"}
	}
	if wantConfig && cfgBlob != nil {
		var cfgFields map[string]any
		if json.Unmarshal(cfgBlob, &cfgFields) == nil {
			for k, v := range cfgFields {
				resp[k] = v
			}
		}
	}

	if body.DisableFlags || r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	distinctID := body.distinctID()
	if distinctID == "" {
		writeJSONError(w, http.StatusBadRequest, "distinct_id is required")
		return
	}

	list, _, err := s.flagsLoader.GetOrLoad(ctx, projectID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to load flags")
		return
	}

	groupTypeCache := s.groupTypes.forProject(projectID)

	personProps, _ := s.propsStore.LoadPersonProperties(ctx, teamID, distinctID)
	groupDBProps := map[string]map[string]properties.Value{}
	for typeName, key := range stringifyGroups(body.Groups) {
		if key == "" {
			continue
		}
		idx, ok := groupTypeCache.IndexForName(typeName)
		if !ok {
			continue
		}
		if raw, err := s.propsStore.LoadGroupProperties(ctx, teamID, idx, key); err == nil {
			groupDBProps[typeName] = toValueMap(raw)
		}
	}
	hashKeyOverrides, _ := s.propsStore.LoadHashKeyOverrides(ctx, teamID, distinctID)

	groupPropOverrides := map[string]map[string]properties.Value{}
	for typeName, raw := range body.GroupProperties {
		groupPropOverrides[typeName] = toValueMap(raw)
	}

	evalCtx := flags.EvalContext{
		DistinctID:              distinctID,
		Groups:                  body.Groups,
		PersonPropertyOverrides: toValueMap(body.PersonProperties),
		GroupPropertyOverrides:  groupPropOverrides,
		HashKeyOverrides:        hashKeyOverrides,
		FlagKeys:                body.flagKeys(),
		Now:                     time.Now(),
		GroupTypes:              s.groupTypes.forProject(projectID),
		Cohorts:                 s.cohortMatcherFor(ctx, teamID),
		PersonDBProperties:      dbPropsToValueMap(personProps),
		GroupDBProperties:       groupDBProps,
	}

	result := flags.Evaluate(list, evalCtx)
	if list.HadDeserializationErrors {
		result.ErrorsWhileComputingFlags = true
	}

	resp["errorsWhileComputingFlags"] = result.ErrorsWhileComputingFlags
	resp["evaluatedAt"] = result.EvaluatedAt
	if len(result.QuotaLimited) > 0 {
		resp["quotaLimited"] = result.QuotaLimited
	}

	enabled, disabled := 0, 0
	if version <= 1 {
		featureFlags := make(map[string]any, len(result.Flags))
		payloads := make(map[string]json.RawMessage, len(result.Flags))
		for key, fr := range result.Flags {
			if fr.Enabled {
				enabled++
				if fr.Variant != nil {
					featureFlags[key] = *fr.Variant
				} else {
					featureFlags[key] = true
				}
			} else {
				disabled++
				featureFlags[key] = false
			}
			if fr.Payload != nil {
				payloads[key] = fr.Payload
			}
		}
		resp["featureFlags"] = featureFlags
		resp["featureFlagPayloads"] = payloads
	} else {
		details := make(map[string]any, len(result.Flags))
		for key, fr := range result.Flags {
			if fr.Enabled {
				enabled++
			} else {
				disabled++
			}
			details[key] = map[string]any{
				"key":      fr.Key,
				"enabled":  fr.Enabled,
				"variant":  fr.Variant,
				"reason":   map[string]any{"code": fr.Reason.Code, "description": fr.Reason.Description},
				"metadata": map[string]any{"id": fr.Metadata.ID, "version": fr.Metadata.Version},
				"payload":  fr.Payload,
			}
		}
		resp["flags"] = details
	}

	writeJSON(w, http.StatusOK, resp)

	canonlog.Emit(s.logger, canonlog.Line{
		RequestID:      middleware.GetReqID(r.Context()),
		RemoteIP:       r.RemoteAddr,
		StartTime:      start,
		UserAgent:      r.UserAgent(),
		Token:          token,
		DistinctID:     distinctID,
		FlagsEvaluated: len(result.Flags),
		FlagsEnabled:   enabled,
		FlagsDisabled:  disabled,
		HTTPStatus:     http.StatusOK,
	})
}

func stringifyGroups(groups map[string]any) map[string]string {
	out := map[string]string{}
	for typeName, raw := range groups {
		switch v := raw.(type) {
		case string:
			out[typeName] = v
		case float64:
			out[typeName] = strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return out
}

func parseVersion(raw string) int {
	if raw == "" {
		return 2
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 2
	}
	return n
}

func truthy(raw string) bool {
	switch strings.ToLower(raw) {
	case "true", "1":
		return true
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) maxBody() int {
	if s.payloadSizeLimit > 0 {
		return s.payloadSizeLimit
	}
	return 20 << 20
}
