// Package permission predicts whether an identity may write ledger objects by
// asking IAM to simulate the request.
package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"
)

// ActionPutObject is the write the ledger performs.
const ActionPutObject = "s3:PutObject"

// ErrMissingRegion is returned when no region is available for the simulation.
var ErrMissingRegion = errors.New("no AWS region configured for the permission check; set CATAPULT_REGION or region in .catapult.yaml")

// UnsupportedIdentityError reports an identity the policy simulator cannot evaluate.
type UnsupportedIdentityError struct {
	Identity string
	Reason   string
}

func (e *UnsupportedIdentityError) Error() string {
	return fmt.Sprintf("cannot simulate policies for %q: %s", e.Identity, e.Reason)
}

type iamAPI interface {
	iam.SimulatePrincipalPolicyAPIClient
}

type stsAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Simulator runs IAM policy simulations for the caller's identity.
type Simulator struct {
	iam    iamAPI
	sts    stsAPI
	region string
	log    zerolog.Logger
}

// New builds a Simulator from an AWS config. The simulated request targets
// region, which falls back to the config's region.
func New(cfg aws.Config, region string, log zerolog.Logger) *Simulator {
	if region == "" {
		region = cfg.Region
	}
	return newSimulator(iam.NewFromConfig(cfg), sts.NewFromConfig(cfg), region, log)
}

func newSimulator(iamClient iamAPI, stsClient stsAPI, region string, log zerolog.Logger) *Simulator {
	return &Simulator{
		iam:    iamClient,
		sts:    stsClient,
		region: region,
		log:    log.With().Str("component", "permission").Logger(),
	}
}

// CallerIdentity returns the ARN of the credentials in use.
func (s *Simulator) CallerIdentity(ctx context.Context) (string, error) {
	out, err := s.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("get caller identity: %w", err)
	}
	return aws.ToString(out.Arn), nil
}

// Check simulates action on each resource for identity and reports, per
// resource ARN, whether it would be allowed. The simulation asserts MFA is
// present and the request targets the simulator's region.
func (s *Simulator) Check(ctx context.Context, identity, action string, resources []string) (map[string]bool, error) {
	if s.region == "" {
		return nil, ErrMissingRegion
	}
	principal, err := NormalizeARN(identity)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(resources))
	if len(resources) == 0 {
		return allowed, nil
	}

	input := &iam.SimulatePrincipalPolicyInput{
		PolicySourceArn: aws.String(policySource(principal)),
		ActionNames:     []string{action},
		ResourceArns:    resources,
		ContextEntries: []iamtypes.ContextEntry{
			{
				ContextKeyName:   aws.String("aws:MultiFactorAuthPresent"),
				ContextKeyType:   iamtypes.ContextKeyTypeEnumBoolean,
				ContextKeyValues: []string{"true"},
			},
			{
				ContextKeyName:   aws.String("aws:RequestedRegion"),
				ContextKeyType:   iamtypes.ContextKeyTypeEnumString,
				ContextKeyValues: []string{s.region},
			},
		},
	}

	paginator := iam.NewSimulatePrincipalPolicyPaginator(s.iam, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("simulate %s for %s: %w", action, principal, err)
		}
		for _, result := range page.EvaluationResults {
			resource := aws.ToString(result.EvalResourceName)
			allowed[resource] = decide(result)
		}
	}

	s.log.Debug().Str("principal", principal).Int("resources", len(resources)).Msg("simulated principal policy")
	return allowed, nil
}

// decide collapses one evaluation result. A resource-specific result naming
// the evaluated resource overrides the top-level decision.
func decide(result iamtypes.EvaluationResult) bool {
	resource := aws.ToString(result.EvalResourceName)
	for _, sub := range result.ResourceSpecificResults {
		if aws.ToString(sub.EvalResourceName) == resource {
			return sub.EvalResourceDecision == iamtypes.PolicyEvaluationDecisionTypeAllowed
		}
	}
	return result.EvalDecision == iamtypes.PolicyEvaluationDecisionTypeAllowed
}

// NormalizeARN maps an assumed-role session to the role it was assumed from,
// since the simulator rejects session principals:
//
//	arn:aws:sts::123456789012:assumed-role/deploy-role/alice
//	arn:aws:sts::123456789012:role/deploy-role
//
// IAM user and role ARNs are returned unchanged. Anything else is an error.
func NormalizeARN(identity string) (string, error) {
	parsed, err := arn.Parse(identity)
	if err != nil {
		return "", &UnsupportedIdentityError{Identity: identity, Reason: "not an ARN"}
	}

	kind, rest, _ := strings.Cut(parsed.Resource, "/")
	switch {
	case parsed.Service == "sts" && kind == "assumed-role":
		role, session, ok := strings.Cut(rest, "/")
		if !ok || role == "" || session == "" {
			return "", &UnsupportedIdentityError{Identity: identity, Reason: "malformed assumed-role ARN"}
		}
		parsed.Resource = "role/" + role
		return parsed.String(), nil
	case parsed.Service == "iam" && (kind == "user" || kind == "role"):
		return identity, nil
	case parsed.Service == "sts" && kind == "role":
		return identity, nil
	}
	return "", &UnsupportedIdentityError{Identity: identity, Reason: "only IAM users, roles and assumed roles are supported"}
}

// policySource rewrites an STS role ARN into the IAM form the simulator accepts.
func policySource(principal string) string {
	parsed, err := arn.Parse(principal)
	if err != nil || parsed.Service != "sts" {
		return principal
	}
	parsed.Service = "iam"
	return parsed.String()
}

// ResourceARN returns the S3 object ARN for a ledger key.
func ResourceARN(bucket, key string) string {
	return "arn:aws:s3:::" + bucket + "/" + key
}
