package authgate

import (
	"github.com/MrEthical07/authgate/directory"
	"github.com/MrEthical07/authgate/jwt"
)

// Identity is a registered account as held by the directory.
type Identity = directory.Identity

// Claims are the verified contents of a token.
type Claims = jwt.Claims

// TokenPair is the result of a login or refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
