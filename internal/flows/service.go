package flows

import "context"

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Login.FindUser != nil && s.deps.Refresh.ParseRefresh != nil
}

func (s Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	return RunLogin(ctx, req, s.deps.Login)
}

func (s Service) Refresh(ctx context.Context, refreshToken string) RefreshResult {
	return RunRefresh(ctx, refreshToken, s.deps.Refresh)
}

func (s Service) Terminate(ctx context.Context, sessionID, reason string) error {
	return RunTerminate(ctx, sessionID, reason, s.deps.Logout)
}

func (s Service) TerminateAll(ctx context.Context, userID, reason string) (int, error) {
	return RunTerminateAll(ctx, userID, reason, s.deps.Logout)
}

func (s Service) RequestOTP(ctx context.Context, identifier, purpose string) (*OTPRequestResult, error) {
	return RunRequestOTP(ctx, identifier, purpose, s.deps.OTP)
}

func (s Service) VerifyOTP(ctx context.Context, requestID, code string) (*OTPVerifyResult, error) {
	return RunVerifyOTP(ctx, requestID, code, s.deps.OTP)
}

func (s Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	return RunResetPassword(ctx, req, s.deps.Password)
}

func (s Service) ChangePassword(ctx context.Context, req ChangePasswordRequest) error {
	return RunChangePassword(ctx, req, s.deps.Password)
}
