// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a connection failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindAlreadyInProgress
	KindNotFound
	KindRateLimited
	KindFull
	KindTransportUnavailable
	KindAuthenticationFailed
)

func (k Kind) String() string {
	switch k {
	case KindAlreadyInProgress:
		return "already-in-progress"
	case KindNotFound:
		return "not-found"
	case KindRateLimited:
		return "rate-limited"
	case KindFull:
		return "full"
	case KindTransportUnavailable:
		return "transport-unavailable"
	case KindAuthenticationFailed:
		return "authentication-failed"
	default:
		return "unknown"
	}
}

// Human-readable failure reasons published to observers.
const (
	MessageAlreadyInProgress    = "Connection attempt still in progress."
	MessageNotFound             = "Lobby not found. Please try a new Lobby."
	MessageRateLimited          = "Rate limit exceeded. Please try again later."
	MessageFull                 = "Lobby is full."
	MessageJoinFailed           = "Failed to Join Lobby."
	MessageAuthenticationFailed = "Failed to Authenticate."
	MessageTransportUnavailable = "Failed to start the network connection."
	MessageCancelled            = "Connection cancelled."
)

// Error is a classified connection failure. Message is the text shown
// to the user.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same Kind, so errors.Is works
// against the sentinels below regardless of message.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrAlreadyInProgress    = &Error{Kind: KindAlreadyInProgress, Message: MessageAlreadyInProgress}
	ErrNotFound             = &Error{Kind: KindNotFound, Message: MessageNotFound}
	ErrRateLimited          = &Error{Kind: KindRateLimited, Message: MessageRateLimited}
	ErrFull                 = &Error{Kind: KindFull, Message: MessageFull}
	ErrTransportUnavailable = &Error{Kind: KindTransportUnavailable, Message: MessageTransportUnavailable}
	ErrAuthenticationFailed = &Error{Kind: KindAuthenticationFailed, Message: MessageAuthenticationFailed}
)

// KindOf returns the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindUnknown
}

// Service error codes a Directory reports in ServiceError.Code.
const (
	CodeRateLimited = "rate_limited"
	CodeNotFound    = "not_found"
	CodeFull        = "full"
)

// ServiceError is a failure reported by the directory service itself,
// as opposed to a failure reaching it.
type ServiceError struct {
	Code    string
	Message string
}

func (e *ServiceError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// classify turns an error from a Directory or Transport into an *Error.
// ServiceErrors map by code, then by message text; any other error
// becomes KindUnknown with fallback as its message.
func classify(err error, fallback string) *Error {
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindUnknown, Message: MessageCancelled, Err: err}
	}

	var service *ServiceError
	if !errors.As(err, &service) {
		return &Error{Kind: KindUnknown, Message: fallback, Err: err}
	}

	text := strings.ToLower(service.Message)
	switch {
	case service.Code == CodeRateLimited || strings.Contains(text, "rate limit"):
		return &Error{Kind: KindRateLimited, Message: MessageRateLimited, Err: err}
	case service.Code == CodeNotFound || strings.Contains(text, "lobby not found"):
		return &Error{Kind: KindNotFound, Message: MessageNotFound, Err: err}
	case service.Code == CodeFull:
		return &Error{Kind: KindFull, Message: MessageFull, Err: err}
	}
	if service.Message == "" {
		return &Error{Kind: KindUnknown, Message: fallback, Err: err}
	}
	return &Error{Kind: KindUnknown, Message: service.Message, Err: err}
}
