package domain

// Invocation describes what is being profiled: a CLI command or an HTTP request.
type Invocation struct {
	// CLI is true for command-line invocations; Args is then the argument vector.
	CLI  bool
	Args []string

	Method   string
	URI      string
	Scheme   string
	Host     string
	Referrer string

	// FormVars and BodyBytes describe a request body. They are only set
	// for methods that carry one.
	FormVars  int
	BodyBytes int64
}

// Origin returns "{scheme}://{host}" for HTTP invocations and "" for CLI ones.
func (i Invocation) Origin() string {
	if i.CLI || i.Host == "" {
		return ""
	}
	scheme := i.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + i.Host
}

// CarriesBody reports whether requests with method are expected to send a form body.
func CarriesBody(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}
