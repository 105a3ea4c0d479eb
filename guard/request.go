package guard

// RequestContext exposes the credentials an incoming request carries.
type RequestContext interface {
	BearerToken() (string, bool)
	SessionID() (string, bool)
}

// StaticRequest is a RequestContext with fixed values.
type StaticRequest struct {
	Token   string
	Session string
}

var _ RequestContext = StaticRequest{}

func (r StaticRequest) BearerToken() (string, bool) {
	return r.Token, r.Token != ""
}

func (r StaticRequest) SessionID() (string, bool) {
	return r.Session, r.Session != ""
}
