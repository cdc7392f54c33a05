package remote

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/rs/zerolog"
)

// LambdaClient defines the function invocation operation used by Invoker.
type LambdaClient interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// InvokeResult is the outcome of a serverless function invocation.
type InvokeResult struct {
	StatusCode int32  `json:"statusCode"`
	Payload    []byte `json:"payload"`
}

// Invoker triggers serverless functions for ops tooling, e.g. manually
// exercising the rollback function.
type Invoker struct {
	logger      zerolog.Logger
	client      LambdaClient
	callTimeout time.Duration
}

// NewInvoker constructs an Invoker over the given client.
func NewInvoker(logger zerolog.Logger, client LambdaClient) *Invoker {
	return &Invoker{
		logger:      logger,
		client:      client,
		callTimeout: defaultCallTimeout,
	}
}

// Invoke calls the named function synchronously with the given payload.
func (i *Invoker) Invoke(ctx context.Context, functionName string, payload []byte) (InvokeResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, i.callTimeout)
	defer cancel()

	out, err := i.client.Invoke(callCtx, &lambda.InvokeInput{
		FunctionName: aws.String(functionName),
		Payload:      payload,
	})
	if err != nil {
		return InvokeResult{}, wrapUpstream("invoke function", err)
	}

	result := InvokeResult{Payload: out.Payload}
	if out.StatusCode != 0 {
		result.StatusCode = out.StatusCode
	}

	i.logger.Info().
		Str("function", functionName).
		Int32("status", result.StatusCode).
		Msg("function invoked")

	return result, nil
}
