package simpleimage

import "context"

type subjectKey struct{}

// ContextWithSubject returns a context carrying an already verified subject.
// Services use it instead of verifying the request credential again.
func ContextWithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext returns the subject stored by ContextWithSubject
func SubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(subjectKey{}).(string)
	return subject, ok
}
