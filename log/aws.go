package log

import (
	"os"

	"github.com/aws/aws-sdk-go/aws"
)

//
// AWSLogger routes AWS SDK logging through zap
//
type AWSLogger struct{}

// Log satisfies aws.Logger
func (l *AWSLogger) Log(args ...interface{}) {
	sugar := logger.Sugar()
	sugar.Debug(args...)
}

// AWSLevel returns the SDK log level, wire-debug when AWS_SDK_DEBUG is set
func AWSLevel() *aws.LogLevelType {
	if os.Getenv("AWS_SDK_DEBUG") != "" {
		return aws.LogLevel(aws.LogDebugWithHTTPBody)
	}
	return aws.LogLevel(aws.LogOff)
}
