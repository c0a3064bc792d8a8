package handlers

import (
	"time"

	"github.com/rezenkai/crmflow/model"
	"github.com/rezenkai/crmflow/step"
)

type Config struct {
	CRMBaseURL  string
	CRMToken    string
	SMTP        SMTPConfig
	HTTPTimeout time.Duration
}

// RegisterDefaults adds the handlers backed by external collaborators.
// CRM steps are only registered when a CRM base url is configured.
func RegisterDefaults(reg *step.Registry, cfg Config) error {
	caller := NewHTTPCaller(cfg.HTTPTimeout)
	var sender EmailSender
	if cfg.SMTP.Enabled() {
		sender = NewSMTPSender(cfg.SMTP)
	}
	handlers := map[model.StepType]step.Handler{
		model.STEP_TYPE_API_CALL:   APICallHandler(caller),
		model.STEP_TYPE_SEND_EMAIL: EmailHandler(sender),
	}
	if cfg.CRMBaseURL != "" {
		crm := NewCRMClient(caller, cfg.CRMBaseURL, cfg.CRMToken)
		handlers[model.STEP_TYPE_CREATE_CONTACT] = CreateContactHandler(crm)
		handlers[model.STEP_TYPE_UPDATE_CONTACT] = UpdateContactHandler(crm)
		handlers[model.STEP_TYPE_CREATE_DEAL] = CreateDealHandler(crm)
		handlers[model.STEP_TYPE_CREATE_TASK] = CreateTaskHandler(crm)
	}
	for t, h := range handlers {
		if err := reg.Register(t, h); err != nil {
			return err
		}
	}
	return nil
}
