package gatewayapi

import (
	"net/http"

	"github.com/enclagent/gateway/domain/policy"
	gatewayerrors "github.com/enclagent/gateway/infrastructure/errors"
)

type suggestConfigRequest struct {
	WalletAddress  string `json:"wallet_address"`
	Intent         string `json:"intent"`
	Domain         string `json:"domain"`
	GatewayAuthKey string `json:"gateway_auth_key,omitempty"`
}

type suggestConfigResponse struct {
	Config      *policy.Config `json:"config"`
	Assumptions []string       `json:"assumptions"`
	Warnings    []string       `json:"warnings"`
}

func (s *Server) handleSuggestConfig(w http.ResponseWriter, r *http.Request) {
	var req suggestConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, gatewayerrors.New(gatewayerrors.CodeInvalidWalletAddress, "request body is malformed", http.StatusBadRequest))
		return
	}
	if err := validateWalletAddress(req.WalletAddress); err != nil {
		writeError(w, err)
		return
	}

	suggestion, err := policy.Suggest(s.templates, req.WalletAddress, req.Intent, req.Domain, req.GatewayAuthKey)
	if err != nil {
		writeError(w, gatewayerrors.Internal("synthesize suggested config", err))
		return
	}

	writeJSON(w, http.StatusOK, suggestConfigResponse{
		Config:      suggestion.Config,
		Assumptions: suggestion.Assumptions,
		Warnings:    suggestion.Warnings,
	})
}

type policyTemplatesResponse struct {
	GeneratedAt string            `json:"generated_at"`
	Templates   []policy.Template `json:"templates"`
}

func (s *Server) handlePolicyTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.templates.List()
	if err != nil {
		writeError(w, gatewayerrors.Internal("load policy templates", err))
		return
	}
	writeJSON(w, http.StatusOK, policyTemplatesResponse{
		GeneratedAt: s.now().Format(rfc3339),
		Templates:   templates,
	})
}

// experienceStep is the gateway's one-directional projection of the UI
// module-state machine's dependency chain (identity -> policy ->
// verification -> provisioning -> runtime -> evidence); the gateway never
// needs the reverse edges.
type experienceStep struct {
	Step      string `json:"step"`
	Title     string `json:"title"`
	DependsOn string `json:"depends_on,omitempty"`
}

type experienceManifestResponse struct {
	ManifestVersion int              `json:"manifest_version"`
	Steps           []experienceStep `json:"steps"`
}

func (s *Server) handleExperienceManifest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, experienceManifestResponse{
		ManifestVersion: 1,
		Steps: []experienceStep{
			{Step: "identity", Title: "Wallet challenge and signature"},
			{Step: "policy", Title: "Onboarding and policy configuration", DependsOn: "identity"},
			{Step: "verification", Title: "Funding preflight", DependsOn: "policy"},
			{Step: "provisioning", Title: "Runtime provisioning", DependsOn: "verification"},
			{Step: "runtime", Title: "Runtime control", DependsOn: "provisioning"},
			{Step: "evidence", Title: "Timeline and verification evidence", DependsOn: "runtime"},
		},
	})
}

type configContractResponse struct {
	CurrentConfigVersion int `json:"current_config_version"`
	Defaults             struct {
		ProfileDomain string `json:"profile_domain"`
	} `json:"defaults"`
}

func (s *Server) handleConfigContract(w http.ResponseWriter, r *http.Request) {
	resp := configContractResponse{CurrentConfigVersion: 1}
	resp.Defaults.ProfileDomain = "trading"
	writeJSON(w, http.StatusOK, resp)
}

type bootstrapResponse struct {
	Enabled             bool   `json:"enabled"`
	RequirePrivy        bool   `json:"require_privy"`
	PrivyAppID          string `json:"privy_app_id,omitempty"`
	ProvisioningBackend string `json:"provisioning_backend"`
	PollIntervalMs      int    `json:"poll_interval_ms"`
}

func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	backend := "unconfigured"
	if s.provisioner != nil {
		backend = s.provisioner.Backend
	}
	poll := s.cfg.EventBus.PollIntervalMs
	if poll <= 0 {
		poll = 2000
	}
	writeJSON(w, http.StatusOK, bootstrapResponse{
		Enabled:             s.cfg.Frontdoor.Enabled,
		RequirePrivy:        s.cfg.Frontdoor.RequirePrivy,
		PrivyAppID:          s.cfg.Frontdoor.PrivyAppID,
		ProvisioningBackend: backend,
		PollIntervalMs:      poll,
	})
}
