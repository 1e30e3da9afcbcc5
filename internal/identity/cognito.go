package identity

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	cognito "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
)

// CognitoProvider backs Provider with a Cognito user pool. Accounts are keyed
// by email; the pool verifies addresses at creation.
type CognitoProvider struct {
	client *cognito.Client
	poolID string
}

func NewCognito(client *cognito.Client, poolID string) *CognitoProvider {
	return &CognitoProvider{client: client, poolID: poolID}
}

func (p *CognitoProvider) GetEmail(ctx context.Context, accessToken string) (string, error) {
	out, err := p.client.GetUser(ctx, &cognito.GetUserInput{
		AccessToken: aws.String(accessToken),
	})
	if err != nil {
		return "", err
	}
	for _, attr := range out.UserAttributes {
		if aws.ToString(attr.Name) == "email" {
			if email := aws.ToString(attr.Value); email != "" {
				return email, nil
			}
		}
	}
	return "", ErrNotFound
}

func (p *CognitoProvider) DeleteUser(ctx context.Context, email string) error {
	taken, err := p.emailRegistered(ctx, email)
	if err != nil {
		return err
	}
	if !taken {
		return ErrNotFound
	}

	_, err = p.client.AdminDeleteUser(ctx, &cognito.AdminDeleteUserInput{
		UserPoolId: aws.String(p.poolID),
		Username:   aws.String(email),
	})
	return err
}

func (p *CognitoProvider) emailRegistered(ctx context.Context, email string) (bool, error) {
	out, err := p.client.ListUsers(ctx, &cognito.ListUsersInput{
		UserPoolId: aws.String(p.poolID),
		Filter:     aws.String(fmt.Sprintf("email = %q", email)),
	})
	if err != nil {
		return false, err
	}
	return len(out.Users) > 0, nil
}
