package testutil

// LoginPageHTML 是登录按钮已从 #login 改为 .btn-login 的页面
const LoginPageHTML = `<!DOCTYPE html>
<html>
<head><title>Sign in</title></head>
<body>
  <h1>Welcome back</h1>
  <form id="login-form" action="/session" method="post">
    <label for="email">Email</label>
    <input id="email" name="email" type="email" data-box="100,100,300,32">
    <label for="password">Password</label>
    <input id="password" name="password" type="password" data-box="100,150,300,32">
    <button class="btn btn-login" type="submit" data-box="100,200,120,40">Sign In</button>
    <a href="/forgot" class="link" data-box="240,210,120,20">Forgot password?</a>
  </form>
  <div class="footer">
    <button class="btn-secondary" type="button" data-box="100,600,120,40">Sign up</button>
  </div>
</body>
</html>`

// AmbiguousPageHTML 中 "Save" 文本同时出现在两个 .save 按钮上，另有一个隐藏按钮
const AmbiguousPageHTML = `<!DOCTYPE html>
<html>
<head><title>Editor</title></head>
<body>
  <button class="save" data-box="10,10,80,30">Save</button>
  <button class="save" data-box="10,60,80,30">Save</button>
  <button id="save-hidden" style="display:none" data-box="10,110,80,30">Save</button>
</body>
</html>`

// CheckoutPageHTML 中提交按钮带有稳定的 #submit-order
const CheckoutPageHTML = `<!DOCTYPE html>
<html>
<head><title>Checkout</title></head>
<body>
  <a class="home" href="/" data-box="0,0,80,30">Home</a>
  <button id="submit-order" data-box="500,400,120,40">Place order</button>
</body>
</html>`

// RedesignedCheckoutPageHTML 是改版后的结账页：提交按钮失去 id，文案也变了，位置几乎不变
const RedesignedCheckoutPageHTML = `<!DOCTYPE html>
<html>
<head><title>Checkout</title></head>
<body>
  <a class="home" href="/" data-box="0,0,80,30">Home</a>
  <button class="proceed" data-box="505,402,120,40">Continue</button>
</body>
</html>`
