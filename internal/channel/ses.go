package channel

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/unclebandit/crces-dispatch/internal/model"
)

type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends email through AWS SES v2.
type SESSender struct {
	client sesAPI
	from   string
}

// NewSESSender builds the SES client. Static credentials are used when
// given, otherwise the default AWS credential chain.
func NewSESSender(ctx context.Context, region, accessKey, secretKey, from string) (*SESSender, error) {
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SESSender{client: sesv2.NewFromConfig(cfg), from: from}, nil
}

func (s *SESSender) Channel() model.Channel { return model.ChannelEmail }

func (s *SESSender) Send(ctx context.Context, msg Message) (Outcome, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(strconv.Itoa(msg.CampaignID))},
			{Name: aws.String("job_id"), Value: aws.String(strconv.Itoa(msg.JobID))},
		},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return classifySESError(err)
	}
	return Outcome{Status: model.OutcomeSent, ProviderRef: aws.ToString(out.MessageId), Code: "200"}, nil
}

func classifySESError(err error) (Outcome, error) {
	var (
		tooMany   *types.TooManyRequestsException
		limit     *types.LimitExceededException
		rejected  *types.MessageRejected
		badReq    *types.BadRequestException
		notVerify *types.MailFromDomainNotVerifiedException
	)
	switch {
	case errors.As(err, &tooMany):
		return Outcome{Status: model.OutcomeRateLimited, Code: "TooManyRequests", Detail: err.Error()}, nil
	case errors.As(err, &limit):
		return Outcome{Status: model.OutcomeRateLimited, Code: "LimitExceeded", Detail: err.Error()}, nil
	case errors.As(err, &rejected):
		return Outcome{Status: model.OutcomeRejected, Code: "MessageRejected", Detail: err.Error()}, nil
	case errors.As(err, &badReq):
		return Outcome{Status: model.OutcomeRejected, Code: "BadRequest", Detail: err.Error()}, nil
	case errors.As(err, &notVerify):
		return Outcome{Status: model.OutcomeRejected, Code: "MailFromDomainNotVerified", Detail: err.Error()}, nil
	}
	return Outcome{}, fmt.Errorf("ses send: %w", err)
}
